// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sample

import (
	"github.com/holomush/plugbus/pkg/plugin"
)

// Keys of the events the sample plugin emits.
var (
	KeyStartup        = plugin.PluginKey(Name, "startup")
	KeyShutdown       = plugin.PluginKey(Name, "shutdown")
	KeyPlayerWelcomed = plugin.PluginKey(Name, "player_welcomed")
	KeyPlayerStats    = plugin.PluginKey(Name, "player_stats")
	KeySessionSummary = plugin.PluginKey(Name, "session_summary")
	KeyHighJump       = plugin.PluginKey(Name, "high_jump")

	KeyLoggerActivity = plugin.PluginKey("logger", "activity_logged")
	KeyItemUsed       = plugin.PluginKey("inventory", "item_used")
	KeySystemInfo     = plugin.PluginKey("inventory", "get_system_info")
)

// PlayerConnection is the payload of connect and disconnect events.
type PlayerConnection struct {
	PlayerID plugin.PlayerID `json:"player_id"`
}

// Validate requires a player ID.
func (e PlayerConnection) Validate() error { return plugin.RequirePlayerID(e.PlayerID) }

// PlayerChatEvent is a chat line sent by a player.
type PlayerChatEvent struct {
	PlayerID  plugin.PlayerID `json:"player_id"`
	Message   string          `json:"message"`
	Channel   string          `json:"channel"`
	Timestamp int64           `json:"timestamp"`
}

// Validate requires a player ID.
func (e PlayerChatEvent) Validate() error { return plugin.RequirePlayerID(e.PlayerID) }

// PlayerMoveEvent reports a position change.
type PlayerMoveEvent struct {
	PlayerID     plugin.PlayerID `json:"player_id"`
	FromPosition plugin.Position `json:"from_position"`
	ToPosition   plugin.Position `json:"to_position"`
	Speed        float64         `json:"speed"`
}

// Validate requires a player ID.
func (e PlayerMoveEvent) Validate() error { return plugin.RequirePlayerID(e.PlayerID) }

// PlayerJumpEvent reports a jump.
type PlayerJumpEvent struct {
	PlayerID  plugin.PlayerID `json:"player_id"`
	Height    float64         `json:"height"`
	Position  plugin.Position `json:"position"`
	Timestamp int64           `json:"timestamp"`
}

// Validate requires a player ID.
func (e PlayerJumpEvent) Validate() error { return plugin.RequirePlayerID(e.PlayerID) }

// PlayerWelcomedEvent is emitted after a player connects.
type PlayerWelcomedEvent struct {
	PlayerID       plugin.PlayerID `json:"player_id"`
	WelcomeMessage string          `json:"welcome_message"`
	Timestamp      int64           `json:"timestamp"`
}

// PlayerStatsEvent summarises one player's session. TimeOnline is in seconds.
type PlayerStatsEvent struct {
	PlayerID       plugin.PlayerID `json:"player_id"`
	MessagesSent   uint32          `json:"messages_sent"`
	JumpsPerformed uint32          `json:"jumps_performed"`
	TimeOnline     uint64          `json:"time_online"`
}

// HighJumpEvent is emitted for jumps above HighJumpThreshold.
type HighJumpEvent struct {
	PlayerID plugin.PlayerID `json:"player_id"`
	Height   float64         `json:"height"`
	Position plugin.Position `json:"position"`
}

// StartupEvent announces the plugin to other plugins.
type StartupEvent struct {
	Plugin    string   `json:"plugin"`
	Version   string   `json:"version"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
	Features  []string `json:"features"`
}

// SystemInfoRequest asks the inventory plugin to describe itself.
type SystemInfoRequest struct {
	Requester string `json:"requester"`
	Timestamp int64  `json:"timestamp"`
}

// SessionStats aggregates the counters of every tracked player.
type SessionStats struct {
	PlayersTracked int    `json:"players_tracked"`
	TotalMessages  uint64 `json:"total_messages"`
	TotalJumps     uint64 `json:"total_jumps"`
}

// ShutdownEvent announces the plugin going offline.
type ShutdownEvent struct {
	Plugin       string       `json:"plugin"`
	SessionStats SessionStats `json:"session_stats"`
	Message      string       `json:"message"`
	Timestamp    int64        `json:"timestamp"`
}
