// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sample

import (
	"context"
	"strings"

	"github.com/holomush/plugbus/internal/store"
	"github.com/holomush/plugbus/pkg/plugin"
)

// handlers binds the plugin to the bus its events are emitted on.
type handlers struct {
	*Plugin
	bus plugin.EventBus
}

// emit publishes payload. Failures of downstream handlers are theirs and
// are not reported back to the emitting handler.
func (h *handlers) emit(ctx context.Context, key plugin.Key, payload any) error {
	if _, err := h.bus.Publish(ctx, key, payload); err != nil {
		return plugin.ErrExecution(Name, err)
	}
	return nil
}

func (h *handlers) playerConnected(ctx context.Context, ev PlayerConnection) error {
	joined := h.now()
	_, replaced := h.players.Upsert(ev.PlayerID, func() store.Record {
		return store.NewRecord(joined)
	})
	tracked := h.players.Len()

	h.logger.InfoContext(ctx, "player connected",
		"player_id", ev.PlayerID.String(),
		"reconnect", replaced,
		"tracked", tracked,
	)
	if tracked > h.cfg.MaxPlayersTracked {
		h.logger.WarnContext(ctx, "tracking more players than configured",
			"tracked", tracked,
			"max_players_tracked", h.cfg.MaxPlayersTracked,
		)
	}

	if !h.cfg.EnableNotifications {
		return nil
	}
	return h.emit(ctx, KeyPlayerWelcomed, PlayerWelcomedEvent{
		PlayerID:       ev.PlayerID,
		WelcomeMessage: h.cfg.WelcomeMessage,
		Timestamp:      plugin.Timestamp(joined),
	})
}

func (h *handlers) playerDisconnected(ctx context.Context, ev PlayerConnection) error {
	rec, ok := h.players.Remove(ev.PlayerID)
	if !ok {
		h.logger.DebugContext(ctx, "disconnect for untracked player", "player_id", ev.PlayerID.String())
		return nil
	}

	stats := h.stats(ev.PlayerID, rec)
	h.logger.InfoContext(ctx, "player disconnected",
		"player_id", ev.PlayerID.String(),
		"online", FormatDuration(stats.TimeOnline),
		"messages", stats.MessagesSent,
		"jumps", stats.JumpsPerformed,
	)
	return h.emit(ctx, KeySessionSummary, stats)
}

func (h *handlers) chatMessage(ctx context.Context, ev PlayerChatEvent) error {
	var rec store.Record
	tracked := h.players.Mutate(ev.PlayerID, func(r *store.Record) {
		r.MessageCount++
		rec = *r
	})

	h.logger.InfoContext(ctx, "chat message",
		"player_id", ev.PlayerID.String(),
		"channel", ev.Channel,
		"message", ev.Message,
	)

	if h.cfg.EnableNotifications && isGreeting(ev.Message) {
		h.logger.InfoContext(ctx, "greeting detected", "player_id", ev.PlayerID.String())
	}

	if !strings.HasPrefix(ev.Message, "!stats") {
		return nil
	}
	if !tracked {
		h.logger.WarnContext(ctx, "stats requested by untracked player", "player_id", ev.PlayerID.String())
		return nil
	}
	return h.emit(ctx, KeyPlayerStats, h.stats(ev.PlayerID, rec))
}

func (h *handlers) positionUpdate(ctx context.Context, ev PlayerMoveEvent) error {
	to := ev.ToPosition
	h.players.Mutate(ev.PlayerID, func(r *store.Record) {
		r.LastPosition = &to
	})

	h.logger.DebugContext(ctx, "player moved",
		"player_id", ev.PlayerID.String(),
		"from", ev.FromPosition,
		"to", ev.ToPosition,
		"distance", plugin.Distance(ev.FromPosition, ev.ToPosition),
		"speed", ev.Speed,
	)
	return nil
}

func (h *handlers) jump(ctx context.Context, ev PlayerJumpEvent) error {
	h.players.Mutate(ev.PlayerID, func(r *store.Record) {
		r.JumpCount++
	})

	h.logger.InfoContext(ctx, "player jumped",
		"player_id", ev.PlayerID.String(),
		"height", ev.Height,
	)

	if ev.Height <= HighJumpThreshold {
		return nil
	}
	return h.emit(ctx, KeyHighJump, HighJumpEvent{
		PlayerID: ev.PlayerID,
		Height:   ev.Height,
		Position: ev.Position,
	})
}

func (h *handlers) loggerActivity(ctx context.Context, ev plugin.Event) error {
	h.logger.DebugContext(ctx, "logger plugin recorded activity",
		"source", ev.Source,
		"payload", ev.Payload,
	)
	return nil
}

func (h *handlers) itemUsed(ctx context.Context, ev plugin.Event) error {
	h.logger.InfoContext(ctx, "player used item",
		"source", ev.Source,
		"payload", ev.Payload,
	)
	return nil
}
