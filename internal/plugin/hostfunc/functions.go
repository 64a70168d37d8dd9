// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc provides host functions to Lua plugins.
//
// Host functions expose server capabilities to plugins in a controlled way.
// Functions that read shared state require a capability grant.
package hostfunc

import (
	"context"
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plugbus/internal/plugin/capability"
	"github.com/holomush/plugbus/internal/store"
	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// ModuleName is the Lua global the host functions are installed under.
const ModuleName = "plugbus"

// Capabilities checked by host functions.
const (
	CapStoreRead = "store.read"
)

// PlayerStats reads player records.
type PlayerStats interface {
	Get(id pluginsdk.PlayerID) (store.Record, bool)
}

// Functions provides host functions to Lua plugins.
type Functions struct {
	enforcer *capability.Enforcer
	stats    PlayerStats
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures Functions.
type Option func(*Functions)

// WithPlayerStats exposes player records through plugbus.player_stats.
func WithPlayerStats(s PlayerStats) Option {
	return func(f *Functions) {
		f.stats = s
	}
}

// WithLogger sets the logger behind plugbus.log.
func WithLogger(l *slog.Logger) Option {
	return func(f *Functions) {
		f.logger = l
	}
}

// WithClock replaces time.Now for time_online.
func WithClock(now func() time.Time) Option {
	return func(f *Functions) {
		f.now = now
	}
}

// New creates host functions checked against enforcer.
// Panics if enforcer is nil.
func New(enforcer *capability.Enforcer, opts ...Option) *Functions {
	if enforcer == nil {
		panic("hostfunc.New: enforcer cannot be nil")
	}
	f := &Functions{
		enforcer: enforcer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register installs the plugbus module into a Lua state for pluginName.
func (f *Functions) Register(L *lua.LState, pluginName string) {
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(f.logFn(pluginName)))
	L.SetField(mod, "new_request_id", L.NewFunction(newRequestIDFn))
	L.SetField(mod, "json_encode", L.NewFunction(jsonEncodeFn))
	L.SetField(mod, "json_decode", L.NewFunction(jsonDecodeFn))

	L.SetField(mod, "player_stats", L.NewFunction(f.wrap(pluginName, CapStoreRead, f.playerStatsFn(pluginName))))

	L.SetGlobal(ModuleName, mod)
}

func (f *Functions) wrap(plugin, capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := f.enforcer.Require(plugin, capName); err != nil {
			f.logger.Warn("host function denied", "plugin", plugin, "capability", capName)
			L.RaiseError("capability denied: %s requires %s", plugin, capName)
			return 0
		}
		return fn(L)
	}
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (f *Functions) logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		var lvl slog.Level
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			lvl = slog.LevelInfo
		}
		f.logger.Log(stateContext(L), lvl, message, "plugin", pluginName)
		return 0
	}
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(pluginsdk.NewID().String()))
	return 1
}

func jsonEncodeFn(L *lua.LState) int {
	data, err := EncodeJSON(L.CheckAny(1))
	if err != nil {
		return pushError(L, err.Error())
	}
	return pushSuccess(L, lua.LString(data))
}

func jsonDecodeFn(L *lua.LState) int {
	v, err := DecodeJSON(L, []byte(L.CheckString(1)))
	if err != nil {
		return pushError(L, "invalid JSON: "+err.Error())
	}
	return pushSuccess(L, v)
}

// playerStatsFn returns a stats table for a tracked player, nil for an
// untracked one, or nil and an error message.
func (f *Functions) playerStatsFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		idStr := L.CheckString(1)

		if f.stats == nil {
			return pushError(L, "player stats not available")
		}

		id, ok := parsePlayerID(L, f.logger, idStr, pluginName)
		if !ok {
			return 2
		}

		rec, ok := f.stats.Get(id)
		if !ok {
			return pushSuccess(L, lua.LNil)
		}

		t := L.NewTable()
		t.RawSetString("player_id", lua.LString(id.String()))
		t.RawSetString("messages_sent", lua.LNumber(rec.MessageCount))
		t.RawSetString("jumps_performed", lua.LNumber(rec.JumpCount))
		t.RawSetString("time_online", lua.LNumber(rec.TimeOnline(f.now())/time.Second))
		t.RawSetString("join_time", lua.LNumber(pluginsdk.Timestamp(rec.JoinTime)))
		if rec.LastPosition != nil {
			pos := L.NewTable()
			pos.RawSetString("x", lua.LNumber(rec.LastPosition.X))
			pos.RawSetString("y", lua.LNumber(rec.LastPosition.Y))
			pos.RawSetString("z", lua.LNumber(rec.LastPosition.Z))
			t.RawSetString("last_position", pos)
		}
		return pushSuccess(L, t)
	}
}
