// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
)

// Plugin is implemented by in-process plugins.
//
// The host calls RegisterHandlers first, then OnInit. If either fails the
// plugin's handlers are removed and it is not considered active. OnShutdown
// is only called for active plugins.
type Plugin interface {
	Name() string
	Version() string
	RegisterHandlers(ctx context.Context, bus EventBus) error
	OnInit(ctx context.Context, sc ServerContext) error
	OnShutdown(ctx context.Context, sc ServerContext) error
}

// ServerContext is the host surface handed to lifecycle hooks.
type ServerContext interface {
	// Logger returns a logger scoped to the plugin.
	Logger() *slog.Logger
	// Log writes a message at the given level through the host logger.
	Log(ctx context.Context, level slog.Level, msg string)
	// Emit publishes an event on behalf of the plugin.
	Emit(ctx context.Context, key Key, payload any) error
}
