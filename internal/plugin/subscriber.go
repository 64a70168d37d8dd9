// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/plugbus/internal/eventbus"
	"github.com/holomush/plugbus/pkg/errutil"
	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// DefaultDeliveryTimeout bounds a single event delivery to a scripted plugin.
const DefaultDeliveryTimeout = 5 * time.Second

// CodeEmitRejected marks an emitted event outside the plugin's namespace.
const CodeEmitRejected = "EMIT_REJECTED"

// Subscriber binds scripted plugins to the event bus. Each manifest event
// pattern becomes a bus handler that delivers matching events to the
// plugin's Host and publishes whatever the plugin emits in return.
type Subscriber struct {
	bus     *eventbus.Bus
	host    Host
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.timeout = d
	}
}

// WithSubscriberLogger sets the logger for delivery failures.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = l
	}
}

// WithSubscriberMetrics records delivery failures and rejected emits.
func WithSubscriberMetrics(m *Metrics) SubscriberOption {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// NewSubscriber creates an event subscriber.
func NewSubscriber(bus *eventbus.Bus, host Host, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		bus:     bus,
		host:    host,
		timeout: DefaultDeliveryTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers one bus handler per event pattern of the manifest.
// An event matching several patterns is delivered once. On error no
// handler of the plugin stays registered.
func (s *Subscriber) Subscribe(m *Manifest) error {
	globs := make([]glob.Glob, len(m.Events))
	for i, pattern := range m.Events {
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return eventbus.ErrInvalidPattern(pattern, err)
		}
		globs[i] = g
	}

	for i, pattern := range m.Events {
		h := s.handler(m.Name, globs[:i])
		if err := s.bus.RegisterPattern(pattern, h,
			pluginsdk.WithOwner(m.Name),
			pluginsdk.WithName(m.Name+"@"+pattern),
		); err != nil {
			s.bus.UnregisterOwner(m.Name)
			return oops.With("plugin", m.Name).Wrap(err)
		}
	}
	return nil
}

// Unsubscribe removes every handler of the plugin and returns how many were removed.
func (s *Subscriber) Unsubscribe(name string) int {
	return s.bus.UnregisterOwner(name)
}

// handler delivers to plugin name unless one of the earlier patterns
// already matched the event.
func (s *Subscriber) handler(name string, earlier []glob.Glob) pluginsdk.Handler {
	return func(ctx context.Context, event pluginsdk.Event) error {
		if event.Source == name {
			return nil
		}
		key := event.Key.String()
		for _, g := range earlier {
			if g.Match(key) {
				return nil
			}
		}
		return s.deliver(ctx, name, event)
	}
}

func (s *Subscriber) deliver(ctx context.Context, name string, event pluginsdk.Event) error {
	deliverCtx, cancel := context.WithTimeout(ctx, s.timeout)
	emits, err := s.host.DeliverEvent(deliverCtx, name, event)
	cancel()

	if err != nil {
		s.metrics.recordFailure(name, PhaseDeliver)
		attrs := []any{
			"plugin", name,
			"event_id", event.ID.String(),
			"key", event.Key.String(),
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			s.logger.WarnContext(ctx, "plugin event delivery timed out", append(attrs, "timeout", s.timeout.String())...)
		case errors.Is(err, context.Canceled):
			s.logger.DebugContext(ctx, "plugin event delivery canceled", attrs...)
		}
		return pluginsdk.ErrExecution(name, err)
	}

	var errs []error
	for _, emit := range emits {
		if err := s.checkEmit(name, emit); err != nil {
			s.metrics.recordRejectedEmit(name)
			errutil.Log(ctx, s.logger, slog.LevelWarn, "plugin emit rejected", err)
			errs = append(errs, err)
			continue
		}
		if _, err := s.bus.PublishFrom(ctx, name, emit.Key, emit.Payload); err != nil {
			errutil.Log(ctx, s.logger, slog.LevelError, "failed to publish plugin event", err, "plugin", name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkEmit allows plugin-category events under the plugin's own namespace.
func (s *Subscriber) checkEmit(name string, emit pluginsdk.EmitEvent) error {
	if err := emit.Key.Validate(); err != nil {
		return oops.Code(CodeEmitRejected).
			With("plugin", name).
			Errorf("plugin %s emitted an invalid key: %v", name, err)
	}
	if emit.Key.Category != pluginsdk.CategoryPlugin || emit.Key.Topic != name {
		return oops.Code(CodeEmitRejected).
			With("plugin", name).
			With("key", emit.Key.String()).
			Errorf("plugin %s may only emit plugin:%s:* events", name, name)
	}
	return nil
}
