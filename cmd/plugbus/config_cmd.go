// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/plugbus/internal/config"
	plugins "github.com/holomush/plugbus/internal/plugin"
	"github.com/holomush/plugbus/internal/xdg"
)

// Schema kinds printed by "config schema".
const (
	schemaConfig = "config"
	schemaPlugin = "plugin"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file against the schema and value rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				p, err := xdg.ConfigFile()
				if err != nil {
					return err
				}
				path = p
			}

			data, err := os.ReadFile(path) //nolint:gosec // path is operator-provided
			if err != nil {
				return oops.Code(config.CodeInvalid).With("path", path).Wrapf(err, "read config file")
			}
			if err := config.ValidateFile(data); err != nil {
				cmd.PrintErrf("%s: %s\n", path, plugins.FormatSchemaError(err))
				return oops.With("path", path).Wrap(err)
			}
			if _, err := config.Load(path, nil); err != nil {
				return err
			}

			cmd.Printf("%s: ok\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return oops.Wrapf(err, "encode config")
			}
			return enc.Close()
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for config files or plugin manifests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				data []byte
				err  error
			)
			switch kind {
			case schemaConfig:
				data, err = config.GenerateSchema()
			case schemaPlugin:
				data, err = plugins.GenerateSchema()
			default:
				return oops.With("kind", kind).Errorf("unknown schema kind %q: must be %q or %q", kind, schemaConfig, schemaPlugin)
			}
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", schemaConfig, "schema to print (config or plugin)")
	return cmd
}
