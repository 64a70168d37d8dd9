// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package eventbus implements the in-process event bus plugins register
// handlers on.
//
// Handlers are bound to an exact key ("client:chat:message") or to a glob
// pattern using ':' as the segment separator ("plugin:inventory:*"). Every
// handler matching a key runs in registration order. A failing, panicking or
// undecodable handler is recorded in the publish Report and never prevents
// later handlers from running. Publishing to a key nobody listens to is a
// no-op.
//
// The registry lock is only held while copying the handler list, so
// handlers may register handlers or publish further events re-entrantly.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/holomush/plugbus/pkg/errutil"
	"github.com/holomush/plugbus/pkg/plugin"
)

var tracer = otel.Tracer("plugbus/eventbus")

// Compile-time interface check.
var _ plugin.EventBus = (*Bus)(nil)

// registration is one handler bound to a key or a pattern.
type registration struct {
	id      uint64
	name    string
	owner   string
	pattern glob.Glob // nil for exact-key registrations
	handler plugin.Handler
}

// Delivery is the outcome of an asynchronous publish.
type Delivery struct {
	Report plugin.Report
	Err    error
}

// Bus routes events to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	exact    map[plugin.Key][]*registration
	patterns []*registration
	nextID   uint64

	// lifecycle guards closed against in-flight async publishes.
	lifecycle sync.RWMutex
	closed    atomic.Bool
	inflight  sync.WaitGroup
	drained   chan struct{} // closed once Close has drained the bus
	workers   *semaphore.Weighted // nil dispatches async publishes inline

	observers *tap
	metrics   *Metrics
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithWorkers bounds the number of asynchronous publishes running at once.
// Zero or less runs PublishAsync inline on the caller's goroutine.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = semaphore.NewWeighted(int64(n))
		} else {
			b.workers = nil
		}
	}
}

// WithMetrics records bus activity in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		exact:  make(map[plugin.Key][]*registration),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.observers = &tap{metrics: b.metrics, logger: b.logger}
	return b
}

// Register adds a handler for an exact key.
func (b *Bus) Register(key plugin.Key, h plugin.Handler, opts ...plugin.RegisterOption) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandler(key.String())
	}
	o := plugin.ApplyRegisterOptions(opts)

	b.mu.Lock()
	defer b.mu.Unlock()

	reg := b.newRegistration(key.String(), o, h)
	b.exact[key] = append(b.exact[key], reg)
	return nil
}

// On adds a handler for one of the host's event kinds.
func (b *Bus) On(kind plugin.Kind, h plugin.Handler, opts ...plugin.RegisterOption) error {
	if kind == plugin.KindUnknown {
		return oops.Code(plugin.CodeInvalidKey).
			With("kind", uint8(kind)).
			Errorf("cannot register for unknown event kind")
	}
	return b.Register(kind.Key(), h, opts...)
}

// RegisterPattern adds a handler for every key whose string form matches
// pattern. '*' matches within one segment, '**' across segments.
func (b *Bus) RegisterPattern(pattern string, h plugin.Handler, opts ...plugin.RegisterOption) error {
	if err := validatePattern(pattern); err != nil {
		return ErrInvalidPattern(pattern, err)
	}
	if h == nil {
		return ErrNilHandler(pattern)
	}
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return ErrInvalidPattern(pattern, err)
	}
	o := plugin.ApplyRegisterOptions(opts)

	b.mu.Lock()
	defer b.mu.Unlock()

	reg := b.newRegistration(pattern, o, h)
	reg.pattern = g
	b.patterns = append(b.patterns, reg)
	return nil
}

const maxPatternLen = 200

// validatePattern limits patterns to '*', '**' and '?' wildcards.
func validatePattern(pattern string) error {
	if pattern == "" {
		return errors.New("pattern is empty")
	}
	if len(pattern) > maxPatternLen {
		return fmt.Errorf("pattern exceeds maximum length of %d: %d characters", maxPatternLen, len(pattern))
	}
	if strings.ContainsAny(pattern, "[]{}") {
		return fmt.Errorf("pattern contains character classes or alternation (not allowed): %q", pattern)
	}
	return nil
}

// newRegistration must be called with b.mu held.
func (b *Bus) newRegistration(target string, o plugin.RegisterOptions, h plugin.Handler) *registration {
	b.nextID++
	name := o.Name
	if name == "" {
		name = fmt.Sprintf("%s#%d", target, b.nextID)
	}
	return &registration{
		id:      b.nextID,
		name:    name,
		owner:   o.Owner,
		handler: h,
	}
}

// UnregisterOwner removes every handler registered with owner and returns
// how many were removed.
func (b *Bus) UnregisterOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	keep := func(regs []*registration) []*registration {
		filtered := regs[:0]
		for _, r := range regs {
			if r.owner == owner {
				removed++
				continue
			}
			filtered = append(filtered, r)
		}
		return filtered
	}

	for key, regs := range b.exact {
		regs = keep(regs)
		if len(regs) == 0 {
			delete(b.exact, key)
			continue
		}
		b.exact[key] = regs
	}
	b.patterns = keep(b.patterns)
	return removed
}

// HandlerCount returns the number of handlers that would run for key.
func (b *Bus) HandlerCount(key plugin.Key) int {
	return len(b.handlersFor(key))
}

// handlersFor snapshots exact and pattern handlers for key, merged back into
// registration order.
func (b *Bus) handlersFor(key plugin.Key) []*registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	exact := b.exact[key]
	var matched []*registration
	if len(b.patterns) > 0 {
		ks := key.String()
		for _, r := range b.patterns {
			if r.pattern.Match(ks) {
				matched = append(matched, r)
			}
		}
	}

	out := make([]*registration, 0, len(exact)+len(matched))
	i, j := 0, 0
	for i < len(exact) && j < len(matched) {
		if exact[i].id < matched[j].id {
			out = append(out, exact[i])
			i++
		} else {
			out = append(out, matched[j])
			j++
		}
	}
	out = append(out, exact[i:]...)
	out = append(out, matched[j:]...)
	return out
}

// Publish encodes payload and delivers it to every handler for key.
func (b *Bus) Publish(ctx context.Context, key plugin.Key, payload any) (plugin.Report, error) {
	return b.PublishFrom(ctx, "", key, payload)
}

// PublishFrom is Publish with the event's source set to a plugin name.
func (b *Bus) PublishFrom(ctx context.Context, source string, key plugin.Key, payload any) (plugin.Report, error) {
	if err := key.Validate(); err != nil {
		return plugin.Report{}, err
	}
	event, err := plugin.NewEvent(key, source, payload)
	if err != nil {
		return plugin.Report{}, err
	}
	return b.PublishEvent(ctx, event)
}

// PublishEvent delivers a prepared event to every handler for its key, in
// registration order, and returns one Result per handler. The error is only
// non-nil when the event could not be published at all.
func (b *Bus) PublishEvent(ctx context.Context, event plugin.Event) (plugin.Report, error) {
	if b.closed.Load() {
		return plugin.Report{Event: event}, ErrBusClosed(event.Key)
	}
	return b.publish(ctx, event)
}

// publish dispatches without checking whether the bus is closed, so async
// publishes accepted before Close still complete.
func (b *Bus) publish(ctx context.Context, event plugin.Event) (plugin.Report, error) {
	report := plugin.Report{Event: event}
	if err := event.Key.Validate(); err != nil {
		return report, err
	}

	category := event.Key.Category.String()
	b.metrics.recordPublish(category)
	b.observers.broadcast(event)

	regs := b.handlersFor(event.Key)
	if len(regs) == 0 {
		return report, nil
	}

	ctx, span := tracer.Start(ctx, "eventbus.publish",
		trace.WithAttributes(
			attribute.String("event.key", event.Key.String()),
			attribute.String("event.id", event.ID.String()),
			attribute.Int("event.handlers", len(regs)),
		),
	)
	defer span.End()

	report.Results = make([]plugin.Result, 0, len(regs))
	for _, reg := range regs {
		report.Results = append(report.Results, b.invoke(ctx, reg, event))
	}

	if failed := len(report.Failures()); failed > 0 {
		span.SetAttributes(attribute.Int("event.failed_handlers", failed))
		span.SetStatus(codes.Error, fmt.Sprintf("%d handler(s) failed", failed))
	}
	return report, nil
}

// invoke runs one handler, converting a panic into its result.
func (b *Bus) invoke(ctx context.Context, reg *registration, event plugin.Event) (res plugin.Result) {
	res.Handler = reg.name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = ErrHandlerPanic(reg.name, event.Key, r)
		}
		res.Duration = time.Since(start)
		b.metrics.recordHandler(event.Key.Category.String(), res.Err, res.Duration)

		if res.Err != nil {
			level := slog.LevelError
			if errutil.Code(res.Err) == plugin.CodeDeserialization {
				level = slog.LevelWarn
			}
			errutil.Log(ctx, b.logger, level, "event handler failed", res.Err,
				"handler", reg.name,
				"owner", reg.owner,
				"key", event.Key.String(),
				"event_id", event.ID.String(),
			)
		}
	}()

	res.Err = reg.handler(ctx, event)
	return res
}

// PublishAsync publishes event without blocking the caller. The returned
// channel receives exactly one Delivery and is then closed. With no worker
// pool configured the publish runs inline before PublishAsync returns.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) <-chan Delivery {
	out := make(chan Delivery, 1)

	if b.workers == nil {
		report, err := b.PublishEvent(ctx, event)
		out <- Delivery{Report: report, Err: err}
		close(out)
		return out
	}

	b.lifecycle.RLock()
	if b.closed.Load() {
		b.lifecycle.RUnlock()
		out <- Delivery{Report: plugin.Report{Event: event}, Err: ErrBusClosed(event.Key)}
		close(out)
		return out
	}
	b.inflight.Add(1)
	b.lifecycle.RUnlock()

	go func() {
		defer b.inflight.Done()
		defer close(out)

		if err := b.workers.Acquire(ctx, 1); err != nil {
			out <- Delivery{
				Report: plugin.Report{Event: event},
				Err:    oops.With("key", event.Key.String()).Wrapf(err, "waiting for a bus worker"),
			}
			return
		}
		defer b.workers.Release(1)

		report, err := b.publish(ctx, event)
		out <- Delivery{Report: report, Err: err}
	}()
	return out
}

// Observe returns a channel receiving a copy of every event published from
// now on, and a function that stops the subscription. Events are dropped
// for this observer while its buffer is full.
func (b *Bus) Observe(buffer int) (<-chan plugin.Event, func()) {
	ch := b.observers.subscribe(buffer)
	var once sync.Once
	return ch, func() {
		once.Do(func() { b.observers.unsubscribe(ch) })
	}
}

// Close rejects further publishes, waits for in-flight asynchronous publishes
// and closes observer channels. If ctx ends first Close returns its error;
// the observers are still closed once the in-flight publishes finish, and a
// later Close waits for that.
func (b *Bus) Close(ctx context.Context) error {
	b.lifecycle.Lock()
	if !b.closed.Swap(true) {
		b.drained = make(chan struct{})
		go func() {
			b.inflight.Wait()
			b.observers.close()
			close(b.drained)
		}()
	}
	drained := b.drained
	b.lifecycle.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return oops.With("operation", "close_event_bus").Wrap(ctx.Err())
	}
}
