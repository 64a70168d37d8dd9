// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for plugbus.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "plugbus"

// ConfigFileName is the config file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

func home() (string, error) {
	h := os.Getenv("HOME")
	if h == "" {
		return "", oops.Code("XDG_NO_HOME").Errorf("HOME is not set and no XDG override is present")
	}
	return h, nil
}

func resolve(envVar string, fallback ...string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName), nil
	}
	h, err := home()
	if err != nil {
		return "", oops.With("env", envVar).Wrap(err)
	}
	return filepath.Join(append(append([]string{h}, fallback...), appName)...), nil
}

// ConfigDir returns the XDG config directory for plugbus.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for plugbus.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// PluginsDir returns the default directory scanned for scripted plugins.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
