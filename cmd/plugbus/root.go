// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/plugbus/internal/config"
	"github.com/holomush/plugbus/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugbus CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugbus",
		Short: "plugbus - a typed event bus for game server plugins",
		Long: `plugbus routes core, client and plugin events between in-process
and Lua plugins, and tracks per-player session state.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plugbus/config.yaml)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewReplayCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// setupLogging installs the process logger described by cfg, writing to w.
func setupLogging(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault(logging.Options{
		Service: "plugbus",
		Version: version,
		Format:  cfg.Format,
		Level:   level,
		Writer:  w,
	}), nil
}
