// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// pushError pushes nil followed by an error string and returns 2.
func pushError(L *lua.LState, errMsg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(errMsg))
	return 2
}

// pushSuccess pushes a value followed by nil and returns 2.
func pushSuccess(L *lua.LState, value lua.LValue) int {
	L.Push(value)
	L.Push(lua.LNil)
	return 2
}

// parsePlayerID parses a player ID argument. On failure it pushes the
// error pair and returns false.
func parsePlayerID(L *lua.LState, logger *slog.Logger, idStr, pluginName string) (pluginsdk.PlayerID, bool) {
	id, err := pluginsdk.ParsePlayerID(idStr)
	if err != nil {
		logger.Debug("invalid player id from plugin",
			"plugin", pluginName,
			"player_id", idStr,
			"error", err)
		pushError(L, "invalid player id: "+idStr)
		return pluginsdk.PlayerID{}, false
	}
	return id, true
}
