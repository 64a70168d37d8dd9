// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/holomush/plugbus/internal/plugin"
	"github.com/holomush/plugbus/internal/plugin/hostfunc"
	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// Compile-time interface check.
var _ plugins.Host = (*Host)(nil)

// luaPlugin holds the source of a loaded plugin.
type luaPlugin struct {
	manifest *plugins.Manifest
	code     string
}

// Host runs Lua plugins. Every delivery gets a fresh sandboxed state, so
// plugins keep no Lua state between events.
type Host struct {
	factory   *StateFactory
	hostFuncs *hostfunc.Functions
	logger    *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*luaPlugin
	closed  bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithFunctions installs the plugbus host functions in every state.
func WithFunctions(hf *hostfunc.Functions) HostOption {
	return func(h *Host) {
		h.hostFuncs = hf
	}
}

// WithLogger sets the logger for emit validation warnings.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = l
	}
}

// NewHost creates a Lua plugin host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		factory: NewStateFactory(),
		logger:  slog.Default(),
		plugins: make(map[string]*luaPlugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load reads the plugin's entry file and checks that it compiles and runs.
func (h *Host) Load(ctx context.Context, manifest *plugins.Manifest, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	errb := oops.In("lua").With("plugin", manifest.Name).With("operation", "load")
	if h.closed {
		return plugins.ErrHostClosed(manifest.Name)
	}
	if manifest.LuaPlugin == nil {
		return errb.Errorf("manifest has no lua-plugin section")
	}

	entryPath := filepath.Join(dir, manifest.LuaPlugin.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath)) //nolint:gosec // entry path comes from a validated manifest
	if err != nil {
		return errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return errb.Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()
	h.install(L, manifest.Name)

	if err := L.DoString(string(code)); err != nil {
		return errb.With("entry", manifest.LuaPlugin.Entry).Hint("syntax error").Wrap(err)
	}

	h.plugins[manifest.Name] = &luaPlugin{
		manifest: manifest,
		code:     string(code),
	}
	return nil
}

// Unload removes a plugin.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.plugins[name]; !ok {
		return plugins.ErrNotLoaded(name)
	}
	delete(h.plugins, name)
	return nil
}

// DeliverEvent calls the plugin's on_event(event) and returns the events
// it emits. A plugin without on_event ignores every event.
//
// Malformed entries in the returned list are logged and skipped; the error
// is only non-nil when the plugin is unknown, fails to run, or ctx ends.
func (h *Host) DeliverEvent(ctx context.Context, name string, event pluginsdk.Event) ([]pluginsdk.EmitEvent, error) {
	h.mu.RLock()
	p, ok := h.plugins[name]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, plugins.ErrHostClosed(name)
	}
	if !ok {
		return nil, plugins.ErrNotLoaded(name)
	}

	errb := oops.In("lua").With("plugin", name).With("operation", "deliver_event").With("key", event.Key.String())

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create state").Wrap(err)
	}
	defer L.Close()
	h.install(L, name)

	if err := L.DoString(p.code); err != nil {
		return nil, h.runError(ctx, errb, err)
	}

	onEvent := L.GetGlobal("on_event")
	if onEvent.Type() == lua.LTNil {
		h.logger.DebugContext(ctx, "plugin has no on_event handler", "plugin", name)
		return nil, nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      onEvent,
		NRet:    1,
		Protect: true,
	}, buildEventTable(L, event)); err != nil {
		return nil, h.runError(ctx, errb, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	emits, validationErrs := parseEmitEvents(ret)
	if len(validationErrs) > 0 {
		h.logger.WarnContext(ctx, "plugin emit validation errors",
			"plugin", name,
			"error_count", len(validationErrs),
			"errors", validationErrs)
	}
	return emits, nil
}

// runError prefers ctx's error, since the VM reports cancellation as a
// plain Lua error.
func (h *Host) runError(ctx context.Context, errb oops.OopsErrorBuilder, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errb.With("lua_error", err.Error()).Wrap(ctxErr)
	}
	return errb.Wrap(err)
}

func (h *Host) install(L *lua.LState, name string) {
	if h.hostFuncs != nil {
		h.hostFuncs.Register(L, name)
	}
}

// Plugins returns names of loaded plugins in sorted order.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the host. Further loads and deliveries fail.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.plugins = nil
	return nil
}

func buildEventTable(L *lua.LState, event pluginsdk.Event) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(event.ID.String()))
	L.SetField(t, "key", lua.LString(event.Key.String()))
	L.SetField(t, "category", lua.LString(event.Key.Category.String()))
	L.SetField(t, "topic", lua.LString(event.Key.Topic))
	L.SetField(t, "sub_topic", lua.LString(event.Key.SubTopic))
	L.SetField(t, "source", lua.LString(event.Source))
	L.SetField(t, "timestamp", lua.LNumber(pluginsdk.Timestamp(event.Timestamp)))
	L.SetField(t, "payload", lua.LString(event.Payload))
	return t
}

// parseEmitEvents reads the list returned by on_event. Each entry is a
// table with a key string and an optional payload that is either a JSON
// string or a table encoded to JSON.
func parseEmitEvents(ret lua.LValue) (emits []pluginsdk.EmitEvent, validationErrs []string) {
	if ret.Type() == lua.LTNil {
		return nil, nil
	}

	table, ok := ret.(*lua.LTable)
	if !ok {
		return nil, []string{"returned non-table value: " + ret.Type().String()}
	}

	for i := 1; i <= table.Len(); i++ {
		entry, ok := table.RawGetInt(i).(*lua.LTable)
		if !ok {
			validationErrs = append(validationErrs,
				fmt.Sprintf("entry[%d]: expected table, got %s", i, table.RawGetInt(i).Type().String()))
			continue
		}

		keyVal, ok := entry.RawGetString("key").(lua.LString)
		if !ok || keyVal == "" {
			validationErrs = append(validationErrs, fmt.Sprintf("entry[%d]: missing required 'key' field", i))
			continue
		}
		key, err := pluginsdk.ParseKey(string(keyVal))
		if err != nil {
			validationErrs = append(validationErrs, fmt.Sprintf("entry[%d]: %v", i, err))
			continue
		}

		payload, err := emitPayload(entry.RawGetString("payload"))
		if err != nil {
			validationErrs = append(validationErrs, fmt.Sprintf("entry[%d] (key=%s): %v", i, key, err))
			continue
		}

		emits = append(emits, pluginsdk.EmitEvent{Key: key, Payload: payload})
	}

	return emits, validationErrs
}

func emitPayload(v lua.LValue) (json.RawMessage, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		if !json.Valid([]byte(val)) {
			return nil, fmt.Errorf("payload string is not valid JSON")
		}
		return json.RawMessage(val), nil
	default:
		data, err := hostfunc.EncodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		return data, nil
	}
}
