// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sample is an in-process plugin that tracks per-player session
// statistics from connection, chat and movement events and announces its
// lifecycle to other plugins.
package sample

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/holomush/plugbus/internal/store"
	"github.com/holomush/plugbus/pkg/plugin"
)

// Plugin identity.
const (
	Name    = "sample"
	Version = "1.0.0"
)

// HighJumpThreshold is the height above which a jump is announced.
const HighJumpThreshold = 5.0

// Features lists what the plugin announces at startup.
var Features = []string{
	"player_tracking",
	"chat_monitoring",
	"movement_tracking",
	"jump_counting",
}

var greetings = map[string]struct{}{"hello": {}, "hi": {}}

// Compile-time interface check.
var _ plugin.Plugin = (*Plugin)(nil)

// Plugin is the sample plugin. Its player store is owned by the plugin
// and shared with every handler it registers.
type Plugin struct {
	cfg     Config
	players *store.Players
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger handlers write to.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// WithStore shares an existing player store with the plugin.
func WithStore(s *store.Players) Option {
	return func(p *Plugin) {
		p.players = s
	}
}

// New creates the sample plugin.
func New(cfg Config, opts ...Option) *Plugin {
	p := &Plugin{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.players == nil {
		p.players = store.NewPlayers()
	}
	p.logger = p.logger.With("plugin", Name)
	return p
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return Name }

// Version returns the plugin version.
func (p *Plugin) Version() string { return Version }

// Players exposes the player store for inspection.
func (p *Plugin) Players() *store.Players { return p.players }

// RegisterHandlers binds the plugin's handlers. Events the handlers emit
// are published through bus.
func (p *Plugin) RegisterHandlers(_ context.Context, bus plugin.EventBus) error {
	h := &handlers{Plugin: p, bus: bus}

	kinds := []struct {
		kind    plugin.Kind
		name    string
		handler plugin.Handler
	}{
		{plugin.KindPlayerConnected, "sample.player_connected", plugin.Typed(h.playerConnected)},
		{plugin.KindPlayerDisconnected, "sample.player_disconnected", plugin.Typed(h.playerDisconnected)},
		{plugin.KindChatMessage, "sample.chat_message", plugin.Typed(h.chatMessage)},
		{plugin.KindPositionUpdate, "sample.position_update", plugin.Typed(h.positionUpdate)},
		{plugin.KindJump, "sample.jump", plugin.Typed(h.jump)},
	}
	for _, k := range kinds {
		if err := bus.On(k.kind, k.handler, plugin.WithName(k.name)); err != nil {
			return plugin.ErrInitializationFailed(Name, err)
		}
	}

	if err := bus.Register(KeyLoggerActivity, h.loggerActivity, plugin.WithName("sample.logger_activity")); err != nil {
		return plugin.ErrInitializationFailed(Name, err)
	}
	if err := bus.Register(KeyItemUsed, h.itemUsed, plugin.WithName("sample.item_used")); err != nil {
		return plugin.ErrInitializationFailed(Name, err)
	}

	p.logger.Info("handlers registered", "handlers", len(kinds)+2)
	return nil
}

// OnInit announces the plugin and asks the inventory plugin for its system info.
func (p *Plugin) OnInit(ctx context.Context, sc plugin.ServerContext) error {
	sc.Log(ctx, slog.LevelInfo, "sample plugin starting")
	p.logger.InfoContext(ctx, "configuration loaded",
		"welcome_message", p.cfg.WelcomeMessage,
		"max_players_tracked", p.cfg.MaxPlayersTracked,
		"enable_notifications", p.cfg.EnableNotifications,
	)

	now := plugin.Timestamp(p.now())
	if err := sc.Emit(ctx, KeyStartup, StartupEvent{
		Plugin:    Name,
		Version:   Version,
		Message:   "Sample plugin is now online and ready!",
		Timestamp: now,
		Features:  Features,
	}); err != nil {
		return plugin.ErrInitializationFailed(Name, err)
	}

	if err := sc.Emit(ctx, KeySystemInfo, SystemInfoRequest{
		Requester: Name,
		Timestamp: now,
	}); err != nil {
		return plugin.ErrInitializationFailed(Name, err)
	}

	p.logger.InfoContext(ctx, "initialization complete")
	return nil
}

// OnShutdown announces aggregate session statistics.
func (p *Plugin) OnShutdown(ctx context.Context, sc plugin.ServerContext) error {
	totals := p.players.Totals()
	sc.Log(ctx, slog.LevelInfo, "sample plugin shutting down")
	p.logger.InfoContext(ctx, "session stats",
		"players_tracked", totals.Players,
		"total_messages", totals.Messages,
		"total_jumps", totals.Jumps,
	)

	if err := sc.Emit(ctx, KeyShutdown, ShutdownEvent{
		Plugin: Name,
		SessionStats: SessionStats{
			PlayersTracked: totals.Players,
			TotalMessages:  totals.Messages,
			TotalJumps:     totals.Jumps,
		},
		Message:   "Sample plugin going offline. Thanks for the demonstration!",
		Timestamp: plugin.Timestamp(p.now()),
	}); err != nil {
		return plugin.ErrExecution(Name, err)
	}
	return nil
}

// stats builds a PlayerStatsEvent for rec at the plugin's current time.
func (p *Plugin) stats(id plugin.PlayerID, rec store.Record) PlayerStatsEvent {
	return PlayerStatsEvent{
		PlayerID:       id,
		MessagesSent:   rec.MessageCount,
		JumpsPerformed: rec.JumpCount,
		TimeOnline:     uint64(rec.TimeOnline(p.now()) / time.Second),
	}
}

// isGreeting reports whether any word of msg is a greeting.
func isGreeting(msg string) bool {
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := greetings[w]; ok {
			return true
		}
	}
	return false
}
