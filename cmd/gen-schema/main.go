// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema generates the config and plugin manifest JSON Schema files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/holomush/plugbus/internal/config"
	plugins "github.com/holomush/plugbus/internal/plugin"
)

var generators = []struct {
	file string
	gen  func() ([]byte, error)
}{
	{"config.schema.json", config.GenerateSchema},
	{"plugin.schema.json", plugins.GenerateSchema},
}

func main() {
	outDir := "schemas"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	for _, g := range generators {
		schema, err := g.gen()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s: %v\n", g.file, err)
			os.Exit(1)
		}

		outPath := filepath.Join(outDir, g.file)
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
}
