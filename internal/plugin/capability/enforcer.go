// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability grants host functions to scripted plugins.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
// "store.*" matches "store.read" but not "store.read.all", "store.**"
// matches both, and "**" matches any capability.
package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Error codes returned by the enforcer.
const (
	CodeDenied       = "CAPABILITY_DENIED"
	CodeInvalidGrant = "INVALID_GRANT"
)

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime. It is safe for
// concurrent use and its zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]grant
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]grant),
	}
}

// SetGrants replaces the capabilities of a plugin. Either every pattern
// compiles and the grants are replaced, or nothing changes.
func (e *Enforcer) SetGrants(plugin string, capabilities []string) error {
	if plugin == "" {
		return oops.Code(CodeInvalidGrant).Errorf("plugin name cannot be empty")
	}

	compiled := make([]grant, len(capabilities))
	for i, pattern := range capabilities {
		if pattern == "" {
			return oops.Code(CodeInvalidGrant).
				With("plugin", plugin).
				With("index", i).
				Errorf("capability %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.Code(CodeInvalidGrant).
				With("plugin", plugin).
				With("pattern", pattern).
				Wrapf(err, "capability %d", i)
		}
		compiled[i] = grant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[plugin] = compiled
	return nil
}

// RemoveGrants unregisters a plugin. Unknown plugins are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// IsRegistered distinguishes "plugin not registered" from "plugin lacks capability".
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[plugin]
	return ok
}

// GetGrants returns a copy of the patterns granted to a plugin, or nil.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// ListPlugins returns the registered plugin names in sorted order.
func (e *Enforcer) ListPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plugins := make([]string, 0, len(e.grants))
	for name := range e.grants {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	return plugins
}

// Check reports whether the plugin holds the capability. Unknown plugins
// and empty capabilities are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[plugin] {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require is Check returning CAPABILITY_DENIED on refusal.
func (e *Enforcer) Require(plugin, capability string) error {
	if e.Check(plugin, capability) {
		return nil
	}
	return oops.Code(CodeDenied).
		With("plugin", plugin).
		With("capability", capability).
		Errorf("plugin %s lacks capability %s", plugin, capability)
}
