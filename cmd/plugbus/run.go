// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plugbus/internal/config"
	"github.com/holomush/plugbus/internal/observability"
	"github.com/holomush/plugbus/internal/xdg"
	"github.com/holomush/plugbus/pkg/errutil"
)

// shutdownTimeout bounds plugin shutdown and server stop.
const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the event host with the sample and Lua plugins",
		Long: `Start the event host. The sample plugin is always loaded; Lua plugins
are discovered in the plugins directory. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return oops.Wrapf(err, "invalid configuration")
			}
			logger, err := setupLogging(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cmd, cfg, logger)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runHost starts the host and blocks until a signal arrives or ctx ends.
func runHost(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.InfoContext(ctx, "starting plugbus",
		"plugins_dir", cfg.Plugins.Dir,
		"bus_workers", cfg.Bus.Workers,
		"metrics_addr", cfg.Metrics.Addr,
	)

	if err := xdg.EnsureDir(cfg.Plugins.Dir); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, rt.registry, ready.Load,
			observability.WithHandler("/plugins", rt.statusHandler()),
			observability.WithLogger(logger),
		)
		obsErrCh, err := obsServer.Start(ctx)
		if err != nil {
			return oops.Wrapf(err, "failed to start observability server")
		}
		// Cancel on observability failure.
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	if err := rt.launch(ctx); err != nil {
		stopServer(obsServer)
		return err
	}
	ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("plugbus started")
	logger.InfoContext(ctx, "plugbus ready", "active_plugins", len(rt.manager.Active()))

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	stopErr := rt.stop(shutdownCtx)
	if stopErr != nil {
		errutil.Log(shutdownCtx, logger, slog.LevelWarn, "errors during plugin shutdown", stopErr)
	}
	stopServer(obsServer)

	logger.Info("shutdown complete")
	return stopErr
}

func stopServer(s *observability.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors watches a server's error channel and cancels the
// context if an error occurs.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
