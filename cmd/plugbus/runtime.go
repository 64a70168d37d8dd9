// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/plugbus/internal/config"
	"github.com/holomush/plugbus/internal/eventbus"
	"github.com/holomush/plugbus/internal/observability"
	plugins "github.com/holomush/plugbus/internal/plugin"
	"github.com/holomush/plugbus/internal/plugin/capability"
	"github.com/holomush/plugbus/internal/plugin/hostfunc"
	"github.com/holomush/plugbus/internal/plugin/lua"
	"github.com/holomush/plugbus/internal/sample"
	"github.com/holomush/plugbus/internal/store"
	"github.com/holomush/plugbus/pkg/errutil"
)

// hostAPIVersion is the plugin API version manifests' requires constraints
// are checked against.
const hostAPIVersion = "1.0.0"

// runtime is the assembled host: bus, player store, sample plugin and the
// plugin manager with its Lua host.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	bus      *eventbus.Bus
	players  *store.Players
	manager  *plugins.Manager
}

func newRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	registry := observability.NewRegistry()

	bus := eventbus.New(
		eventbus.WithWorkers(cfg.Bus.Workers),
		eventbus.WithMetrics(eventbus.NewMetrics(registry)),
		eventbus.WithLogger(logger),
	)

	players := store.NewPlayers()
	observability.RegisterPlayersTracked(registry, players.Len)

	enforcer := capability.NewEnforcer()
	functions := hostfunc.New(enforcer,
		hostfunc.WithPlayerStats(players),
		hostfunc.WithLogger(logger),
	)
	luaHost := lua.NewHost(lua.WithFunctions(functions), lua.WithLogger(logger))

	manager := plugins.NewManager(bus,
		plugins.WithPluginsDir(cfg.Plugins.Dir),
		plugins.WithLuaHost(luaHost),
		plugins.WithEnforcer(enforcer),
		plugins.WithHostVersion(hostAPIVersion),
		plugins.WithManagerLogger(logger),
		plugins.WithManagerMetrics(plugins.NewMetrics(registry)),
		plugins.WithSubscriberOptions(plugins.WithDeliveryTimeout(cfg.Plugins.DeliveryTimeout())),
	)

	p := sample.New(cfg.Sample, sample.WithLogger(logger), sample.WithStore(players))
	if err := manager.Add(p); err != nil {
		return nil, oops.With("plugin", p.Name()).Wrap(err)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      bus,
		players:  players,
		manager:  manager,
	}, nil
}

// start runs plugin discovery and the lifecycle start of every plugin.
func (r *runtime) start(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return oops.With("operation", "start_plugins").Wrap(err)
	}
	r.logger.InfoContext(ctx, "plugins started", "active", r.manager.Active())
	return nil
}

// launch starts the plugins. If start fails, the plugins that already
// initialised are shut down and the bus is closed before the error is
// returned.
func (r *runtime) launch(ctx context.Context) error {
	err := r.start(ctx)
	if err == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if stopErr := r.stop(stopCtx); stopErr != nil {
		errutil.Log(stopCtx, r.logger, slog.LevelWarn, "errors during plugin shutdown", stopErr)
	}
	return err
}

// stopPlugins shuts plugins down while the bus still accepts their events.
func (r *runtime) stopPlugins(ctx context.Context) error {
	return r.manager.Stop(ctx)
}

// stop shuts plugins down and closes the bus.
func (r *runtime) stop(ctx context.Context) error {
	pluginErr := r.stopPlugins(ctx)
	busErr := r.bus.Close(ctx)
	return errors.Join(pluginErr, busErr)
}

// statusHandler serves the plugin lifecycle status as JSON.
func (r *runtime) statusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.manager.Statuses()); err != nil {
			r.logger.Debug("failed to write plugin status", "error", err)
		}
	})
}
