// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name    string
		fn      func() (string, error)
		env     string
		envVal  string
		want    string
		wantDef string
	}{
		{"config", ConfigDir, "XDG_CONFIG_HOME", "/custom/config", "/custom/config/plugbus", "/home/testuser/.config/plugbus"},
		{"data", DataDir, "XDG_DATA_HOME", "/custom/data", "/custom/data/plugbus", "/home/testuser/.local/share/plugbus"},
	}
	for _, tt := range tests {
		t.Run(tt.name+" env", func(t *testing.T) {
			t.Setenv(tt.env, tt.envVal)
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
		t.Run(tt.name+" default", func(t *testing.T) {
			t.Setenv(tt.env, "")
			t.Setenv("HOME", "/home/testuser")
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.wantDef {
				t.Errorf("got %q, want %q", got, tt.wantDef)
			}
		})
	}
}

func TestDirs_NoHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	if _, err := ConfigDir(); err == nil {
		t.Error("ConfigDir() expected error without HOME")
	}
	if _, err := ConfigFile(); err == nil {
		t.Error("ConfigFile() expected error without HOME")
	}
}

func TestConfigFileAndPluginsDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	file, err := ConfigFile()
	if err != nil {
		t.Fatalf("ConfigFile() error = %v", err)
	}
	if file != "/cfg/plugbus/config.yaml" {
		t.Errorf("ConfigFile() = %q", file)
	}

	dir, err := PluginsDir()
	if err != nil {
		t.Fatalf("PluginsDir() error = %v", err)
	}
	if dir != "/data/plugbus/plugins" {
		t.Errorf("PluginsDir() = %q", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(path); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("perm = %o, want 700", perm)
	}
	if err := EnsureDir(path); err != nil {
		t.Errorf("EnsureDir() on existing dir error = %v", err)
	}
}
