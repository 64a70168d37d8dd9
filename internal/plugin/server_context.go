// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"context"
	"log/slog"

	"github.com/holomush/plugbus/internal/eventbus"
	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// Compile-time interface check.
var _ pluginsdk.ServerContext = (*serverContext)(nil)

// serverContext is the host surface handed to one plugin's lifecycle hooks.
type serverContext struct {
	name   string
	bus    *eventbus.Bus
	logger *slog.Logger
}

func newServerContext(name, version string, bus *eventbus.Bus, logger *slog.Logger) *serverContext {
	return &serverContext{
		name:   name,
		bus:    bus,
		logger: logger.With("plugin", name, "plugin_version", version),
	}
}

func (s *serverContext) Logger() *slog.Logger {
	return s.logger
}

func (s *serverContext) Log(ctx context.Context, level slog.Level, msg string) {
	s.logger.Log(ctx, level, msg)
}

// Emit publishes with the plugin as source. Only failures to publish are
// returned; handler failures stay in the bus report.
func (s *serverContext) Emit(ctx context.Context, key pluginsdk.Key, payload any) error {
	_, err := s.bus.PublishFrom(ctx, s.name, key, payload)
	return err
}
