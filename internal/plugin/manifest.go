// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugins loads plugins and drives their lifecycle against the
// event bus. In-process plugins implement pkg/plugin.Plugin; scripted
// plugins are discovered from plugin.yaml manifests and run by a Host.
package plugins

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the host.
const (
	TypeLua Type = "lua"
)

// ManifestFile is the file name discovered in each plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string     `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string     `yaml:"version" json:"version" jsonschema:"description=Semantic version of the plugin"`
	Type         Type       `yaml:"type" json:"type" jsonschema:"enum=lua"`
	Requires     string     `yaml:"requires,omitempty" json:"requires,omitempty" jsonschema:"description=Semver constraint on the host version such as >=0.1.0"`
	Events       []string   `yaml:"events,omitempty" json:"events,omitempty" jsonschema:"description=Event key patterns delivered to the plugin such as plugin:inventory:*"`
	Capabilities []string   `yaml:"capabilities,omitempty" json:"capabilities,omitempty" jsonschema:"description=Host function capabilities such as store.read"`
	LuaPlugin    *LuaConfig `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern: lowercase letter first, then lowercase letters, digits or
// hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, manifestError("").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, manifestError("").Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return manifestError("name").Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return manifestError("name").Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return manifestError("version").Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return manifestError("version").With("version", m.Version).Wrapf(err, "version is not a semantic version")
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return manifestError("requires").With("requires", m.Requires).Wrapf(err, "invalid version constraint")
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return manifestError("lua-plugin").Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return manifestError("lua-plugin.entry").Errorf("lua-plugin.entry is required")
		}
	default:
		return manifestError("type").Errorf("type must be 'lua', got %q", m.Type)
	}

	for i, pattern := range m.Events {
		if pattern == "" || strings.ContainsAny(pattern, "[]{}") {
			return manifestError("events").With("index", i).Errorf("event pattern %q is not allowed", pattern)
		}
		if _, err := glob.Compile(pattern, ':'); err != nil {
			return manifestError("events").With("index", i).Wrapf(err, "invalid event pattern %q", pattern)
		}
	}

	for i, capability := range m.Capabilities {
		if capability == "" {
			return manifestError("capabilities").With("index", i).Errorf("capability %d is empty", i)
		}
	}

	return nil
}

// CheckCompatible reports whether the plugin accepts the given host version.
// A manifest without a requires constraint accepts any host.
func (m *Manifest) CheckCompatible(hostVersion string) error {
	if m.Requires == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return manifestError("requires").With("requires", m.Requires).Wrapf(err, "invalid version constraint")
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return oops.Code(CodeIncompatible).
			With("plugin", m.Name).
			With("host_version", hostVersion).
			Wrapf(err, "host version is not a semantic version")
	}
	if ok, reasons := constraint.Validate(v); !ok {
		return oops.Code(CodeIncompatible).
			With("plugin", m.Name).
			With("requires", m.Requires).
			With("host_version", hostVersion).
			Errorf("plugin %s requires host %s: %v", m.Name, m.Requires, reasons)
	}
	return nil
}
