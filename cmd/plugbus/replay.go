// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plugbus/internal/config"
	"github.com/holomush/plugbus/pkg/errutil"
	"github.com/holomush/plugbus/pkg/plugin"
)

// CodeReplayInvalid marks an unreadable replay input line.
const CodeReplayInvalid = "REPLAY_INVALID"

const (
	replayObserveBuffer = 4096
	maxReplayLine       = 1 << 20
)

// replayRecord is one line of a replay file.
type replayRecord struct {
	Key     plugin.Key      `json:"key"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// replayStats summarises a replay run.
type replayStats struct {
	Published int
	Outbound  int
	Failures  int
}

// NewReplayCmd creates the replay subcommand.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Publish events from an NDJSON file and print the events plugins emit",
		Long: `Start the host, publish each line of the input (a JSON object with key,
source and payload) and print every event the plugins emit in response as
NDJSON on stdout. Reads stdin when no file is given or the file is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return oops.Wrapf(err, "invalid configuration")
			}
			logger, err := setupLogging(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return oops.Code(CodeReplayInvalid).With("path", args[0]).Wrapf(err, "open replay file")
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			stats, err := runReplay(cmd.Context(), cfg, logger, in, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cmd.PrintErrf("replayed %d events: %d outbound, %d handler failures\n",
				stats.Published, stats.Outbound, stats.Failures)
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runReplay starts a host, feeds it every record in in and writes emitted
// events to out. Events from plugin startup and shutdown are included.
func runReplay(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) (replayStats, error) {
	var stats replayStats

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return stats, err
	}

	events, stopObserving := rt.bus.Observe(replayObserveBuffer)
	defer stopObserving()

	enc := json.NewEncoder(out)
	inputs := make(map[string]struct{})
	var writeErr error
	drain := func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if _, fromInput := inputs[ev.ID.String()]; fromInput {
					continue
				}
				stats.Outbound++
				if err := enc.Encode(ev); err != nil && writeErr == nil {
					writeErr = oops.Wrapf(err, "write outbound event")
				}
			default:
				return
			}
		}
	}

	if err := rt.start(ctx); err != nil {
		_ = rt.stop(ctx)
		return stats, err
	}
	drain()

	publishErr := replayLines(ctx, rt, in, inputs, &stats, drain)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	stopErr := rt.stopPlugins(shutdownCtx)
	drain()
	closeErr := rt.bus.Close(shutdownCtx)

	if publishErr != nil {
		return stats, publishErr
	}
	if writeErr != nil {
		return stats, writeErr
	}
	if stopErr != nil {
		errutil.Log(shutdownCtx, logger, slog.LevelWarn, "errors during plugin shutdown", stopErr)
	}
	return stats, closeErr
}

// replayLines publishes each record synchronously so that everything it
// triggers is observed before the next line is read.
func replayLines(ctx context.Context, rt *runtime, in io.Reader, inputs map[string]struct{}, stats *replayStats, drain func()) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var rec replayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return oops.Code(CodeReplayInvalid).With("line", line).Errorf("decode replay record: %v", err)
		}
		if err := rec.Key.Validate(); err != nil {
			return oops.Code(CodeReplayInvalid).With("line", line).Errorf("invalid event key: %v", err)
		}
		event, err := plugin.NewEvent(rec.Key, rec.Source, rec.Payload)
		if err != nil {
			return oops.Code(CodeReplayInvalid).With("line", line).Errorf("encode replay event: %v", err)
		}

		inputs[event.ID.String()] = struct{}{}
		report, err := rt.bus.PublishEvent(ctx, event)
		if err != nil {
			return oops.With("line", line).Wrap(err)
		}
		stats.Published++
		for _, f := range report.Failures() {
			stats.Failures++
			errutil.Log(ctx, rt.logger, slog.LevelWarn, "handler failed during replay", f.Err,
				"line", line,
				"handler", f.Handler,
				"key", event.Key.String(),
			)
		}
		drain()
	}
	if err := scanner.Err(); err != nil {
		return oops.Code(CodeReplayInvalid).With("line", line+1).Wrapf(err, "read replay input")
	}
	return nil
}
