// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/plugbus/internal/eventbus"
	"github.com/holomush/plugbus/pkg/errutil"
	"github.com/holomush/plugbus/pkg/plugin"
)

var chatKey = plugin.KindChatMessage.Key()

type chat struct {
	Message string `json:"message"`
}

// quietBus returns a bus whose handler-failure logs go to a buffer.
func quietBus(opts ...eventbus.Option) (*eventbus.Bus, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return eventbus.New(append([]eventbus.Option{eventbus.WithLogger(logger)}, opts...)...), &buf
}

// recorder appends handler names in call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string, err error) plugin.Handler {
	return func(context.Context, plugin.Event) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return err
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBus_HandlersRunInRegistrationOrder(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, bus.Register(chatKey, rec.handler(name, nil), plugin.WithName(name)))
	}

	report, err := bus.Publish(context.Background(), chatKey, chat{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, rec.got())
	require.Len(t, report.Results, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, report.Results[i].Handler)
		assert.True(t, report.Results[i].OK())
	}
}

func TestBus_FailingHandlerDoesNotStopLaterHandlers(t *testing.T) {
	const n = 5
	for failing := range n {
		bus, _ := quietBus()
		rec := &recorder{}
		boom := errors.New("boom")

		for i := range n {
			var err error
			if i == failing {
				err = boom
			}
			require.NoError(t, bus.Register(chatKey, rec.handler(string(rune('a'+i)), err)))
		}

		report, err := bus.Publish(context.Background(), chatKey, chat{})
		require.NoError(t, err)

		assert.Len(t, rec.got(), n, "all handlers run when handler %d fails", failing)
		require.Len(t, report.Failures(), 1)
		assert.ErrorIs(t, report.Results[failing].Err, boom)
	}
}

func TestBus_DeserializationFailureIsLocal(t *testing.T) {
	bus, logs := quietBus()

	type strict struct {
		Count int `json:"count"`
	}
	var decoded string
	require.NoError(t, bus.Register(chatKey, plugin.Typed(func(context.Context, strict) error { return nil }), plugin.WithName("strict")))
	require.NoError(t, bus.Register(chatKey, plugin.Typed(func(_ context.Context, c chat) error {
		decoded = c.Message
		return nil
	}), plugin.WithName("chat")))

	report, err := bus.Publish(context.Background(), chatKey, map[string]any{"message": "hello", "count": "not a number"})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	errutil.AssertErrorCode(t, report.Results[0].Err, plugin.CodeDeserialization)
	assert.NoError(t, report.Results[1].Err)
	assert.Equal(t, "hello", decoded)
	assert.Contains(t, logs.String(), `"level":"WARN"`)
}

func TestBus_UnknownKeyIsSilentNoop(t *testing.T) {
	bus, logs := quietBus()

	report, err := bus.Publish(context.Background(), plugin.PluginKey("nobody", "listens"), map[string]int{"x": 1})

	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.NoError(t, report.Err())
	assert.Empty(t, logs.String())
}

func TestBus_PanicIsRecoveredAsFailure(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}

	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error {
		panic("kaboom")
	}, plugin.WithName("panicky")))
	require.NoError(t, bus.Register(chatKey, rec.handler("after", nil)))

	report, err := bus.Publish(context.Background(), chatKey, chat{})
	require.NoError(t, err)

	errutil.AssertErrorCode(t, report.Results[0].Err, eventbus.CodeHandlerPanic)
	errutil.AssertErrorContext(t, report.Results[0].Err, "handler", "panicky")
	assert.Equal(t, []string{"after"}, rec.got())
}

func TestBus_PatternAndExactHandlersMergeInRegistrationOrder(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}
	key := plugin.PluginKey("inventory", "item_used")

	require.NoError(t, bus.RegisterPattern("plugin:inventory:*", rec.handler("pattern-1", nil)))
	require.NoError(t, bus.Register(key, rec.handler("exact-1", nil)))
	require.NoError(t, bus.RegisterPattern("plugin:**", rec.handler("pattern-2", nil)))
	require.NoError(t, bus.Register(key, rec.handler("exact-2", nil)))
	require.NoError(t, bus.RegisterPattern("plugin:logger:*", rec.handler("unrelated", nil)))

	_, err := bus.Publish(context.Background(), key, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"pattern-1", "exact-1", "pattern-2", "exact-2"}, rec.got())
	assert.Equal(t, 4, bus.HandlerCount(key))
}

func TestBus_PatternStarDoesNotCrossSegments(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}
	require.NoError(t, bus.RegisterPattern("plugin:*", rec.handler("shallow", nil)))

	_, err := bus.Publish(context.Background(), plugin.PluginKey("inventory", "item_used"), nil)
	require.NoError(t, err)

	assert.Empty(t, rec.got())
}

func TestBus_RegistrationErrors(t *testing.T) {
	bus, _ := quietBus()
	noop := func(context.Context, plugin.Event) error { return nil }

	errutil.AssertErrorCode(t, bus.Register(plugin.Key{}, noop), plugin.CodeInvalidKey)
	errutil.AssertErrorCode(t, bus.Register(chatKey, nil), eventbus.CodeNilHandler)
	errutil.AssertErrorCode(t, bus.On(plugin.KindUnknown, noop), plugin.CodeInvalidKey)
	errutil.AssertErrorCode(t, bus.RegisterPattern("", noop), eventbus.CodeInvalidPattern)
	errutil.AssertErrorCode(t, bus.RegisterPattern("plugin:[", noop), eventbus.CodeInvalidPattern)
	errutil.AssertErrorCode(t, bus.RegisterPattern("plugin:*", nil), eventbus.CodeNilHandler)
}

func TestBus_OnUsesKindKey(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}
	require.NoError(t, bus.On(plugin.KindJump, rec.handler("jump", nil)))

	_, err := bus.Publish(context.Background(), plugin.ClientKey("movement", "jump"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"jump"}, rec.got())
}

func TestBus_ReentrantPublishAndRegister(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}
	downstream := plugin.PluginKey("sample", "high_jump")

	require.NoError(t, bus.Register(downstream, rec.handler("downstream", nil)))
	require.NoError(t, bus.Register(chatKey, func(ctx context.Context, _ plugin.Event) error {
		if err := bus.Register(downstream, rec.handler("late", nil)); err != nil {
			return err
		}
		_, err := bus.Publish(ctx, downstream, nil)
		return err
	}))

	report, err := bus.Publish(context.Background(), chatKey, chat{})
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, []string{"downstream", "late"}, rec.got())
}

func TestBus_UnregisterOwner(t *testing.T) {
	bus, _ := quietBus()
	rec := &recorder{}

	require.NoError(t, bus.Register(chatKey, rec.handler("sample", nil), plugin.WithOwner("sample")))
	require.NoError(t, bus.RegisterPattern("client:**", rec.handler("sample-pattern", nil), plugin.WithOwner("sample")))
	require.NoError(t, bus.Register(chatKey, rec.handler("other", nil), plugin.WithOwner("other")))

	assert.Equal(t, 2, bus.UnregisterOwner("sample"))
	assert.Zero(t, bus.UnregisterOwner("sample"))

	_, err := bus.Publish(context.Background(), chatKey, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, rec.got())
}

func TestBus_ScopedSetsOwnerAndSource(t *testing.T) {
	bus, _ := quietBus()
	var source string
	scoped := bus.Scoped("sample")

	require.NoError(t, scoped.Register(chatKey, func(_ context.Context, ev plugin.Event) error {
		source = ev.Source
		return nil
	}))

	_, err := scoped.Publish(context.Background(), chatKey, chat{})
	require.NoError(t, err)
	assert.Equal(t, "sample", source)

	assert.Equal(t, 1, bus.UnregisterOwner("sample"))
}

func TestBus_ScopedLeavesCallerOptionsUntouched(t *testing.T) {
	bus, _ := quietBus()
	opts := make([]plugin.RegisterOption, 1, 4)
	opts[0] = plugin.WithName("on-chat")
	noop := func(context.Context, plugin.Event) error { return nil }

	require.NoError(t, bus.Scoped("alpha").Register(chatKey, noop, opts...))
	require.NoError(t, bus.Scoped("beta").RegisterPattern("client:chat:*", noop, opts...))

	assert.Nil(t, opts[:2][1], "scoped registration wrote into the caller's spare capacity")
	assert.Equal(t, 1, bus.UnregisterOwner("alpha"))
	assert.Equal(t, 1, bus.UnregisterOwner("beta"))
}

func TestBus_PublishInvalidKey(t *testing.T) {
	bus, _ := quietBus()
	_, err := bus.Publish(context.Background(), plugin.Key{Category: plugin.CategoryCore}, nil)
	errutil.AssertErrorCode(t, err, plugin.CodeInvalidKey)
}

func TestBus_ConcurrentPublishesToDifferentKeys(t *testing.T) {
	bus, _ := quietBus()
	var mu sync.Mutex
	counts := map[string]int{}

	keys := []plugin.Key{
		plugin.KindChatMessage.Key(),
		plugin.KindJump.Key(),
		plugin.KindPositionUpdate.Key(),
	}
	for _, key := range keys {
		require.NoError(t, bus.Register(key, func(_ context.Context, ev plugin.Event) error {
			mu.Lock()
			counts[ev.Key.String()]++
			mu.Unlock()
			return nil
		}))
	}

	const perKey = 200
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perKey {
				_, err := bus.Publish(context.Background(), key, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, key := range keys {
		assert.Equal(t, perKey, counts[key.String()])
	}
}

func TestBus_PublishAsyncWithWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus(eventbus.WithWorkers(2))
	rec := &recorder{}
	require.NoError(t, bus.Register(chatKey, rec.handler("h", nil)))

	var deliveries []<-chan eventbus.Delivery
	for range 10 {
		ev, err := plugin.NewEvent(chatKey, "", chat{})
		require.NoError(t, err)
		deliveries = append(deliveries, bus.PublishAsync(context.Background(), ev))
	}

	for _, ch := range deliveries {
		select {
		case d := <-ch:
			require.NoError(t, d.Err)
			assert.Len(t, d.Report.Results, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("async publish did not complete")
		}
	}

	require.NoError(t, bus.Close(context.Background()))
	assert.Len(t, rec.got(), 10)
}

func TestBus_PublishAsyncInlineWithoutWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus()
	rec := &recorder{}
	require.NoError(t, bus.Register(chatKey, rec.handler("h", nil)))

	ev, err := plugin.NewEvent(chatKey, "", chat{})
	require.NoError(t, err)
	ch := bus.PublishAsync(context.Background(), ev)

	assert.Equal(t, []string{"h"}, rec.got(), "inline dispatch completes before returning")
	d, ok := <-ch
	require.True(t, ok)
	require.NoError(t, d.Err)
	_, ok = <-ch
	assert.False(t, ok, "channel is closed after one delivery")
}

func TestBus_CloseWaitsForInflightAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus(eventbus.WithWorkers(1))
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error {
		close(started)
		<-release
		return nil
	}))

	ev, err := plugin.NewEvent(chatKey, "", nil)
	require.NoError(t, err)
	ch := bus.PublishAsync(context.Background(), ev)
	<-started

	closed := make(chan error, 1)
	go func() { closed <- bus.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a publish was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closed)
	d := <-ch
	assert.NoError(t, d.Err, "publish accepted before Close completes")
}

func TestBus_CloseTimeoutStillClosesObservers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus(eventbus.WithWorkers(1))
	events, _ := bus.Observe(4)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error {
		close(started)
		<-release
		return nil
	}))

	ev, err := plugin.NewEvent(chatKey, "", nil)
	require.NoError(t, err)
	ch := bus.PublishAsync(context.Background(), ev)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = bus.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, (<-ch).Err)
	require.NoError(t, bus.Close(context.Background()))

	for range events {
	}
	_, ok := <-events
	assert.False(t, ok, "observer closed after the bus drained")
}

func TestBus_RepeatedCloseWaitsForDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus(eventbus.WithWorkers(1))
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error {
		close(started)
		<-release
		return nil
	}))

	ev, err := plugin.NewEvent(chatKey, "", nil)
	require.NoError(t, err)
	ch := bus.PublishAsync(context.Background(), ev)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, bus.Close(ctx))

	closed := make(chan error, 1)
	go func() { closed <- bus.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("second Close returned before the in-flight publish finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closed)
	<-ch
}

func TestBus_PublishAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus, _ := quietBus(eventbus.WithWorkers(1))
	require.NoError(t, bus.Close(context.Background()))
	require.NoError(t, bus.Close(context.Background()), "close is idempotent")

	_, err := bus.Publish(context.Background(), chatKey, nil)
	errutil.AssertErrorCode(t, err, eventbus.CodeBusClosed)

	ev, err := plugin.NewEvent(chatKey, "", nil)
	require.NoError(t, err)
	d := <-bus.PublishAsync(context.Background(), ev)
	errutil.AssertErrorCode(t, d.Err, eventbus.CodeBusClosed)
}

func TestBus_ObserveSeesEveryEvent(t *testing.T) {
	bus, _ := quietBus()
	events, stop := bus.Observe(4)

	_, err := bus.PublishFrom(context.Background(), "sample", plugin.PluginKey("sample", "startup"), map[string]string{"plugin": "sample"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "plugin:sample:startup", ev.Key.String())
		assert.Equal(t, "sample", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("observer did not receive event")
	}

	stop()
	stop()
	_, ok := <-events
	assert.False(t, ok, "stopping closes the channel")
}

func TestBus_ObserverDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := eventbus.NewMetrics(reg)
	bus, _ := quietBus(eventbus.WithMetrics(metrics))
	events, stop := bus.Observe(1)
	defer stop()

	for range 3 {
		_, err := bus.Publish(context.Background(), chatKey, nil)
		require.NoError(t, err)
	}

	assert.Len(t, events, 1)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.ObserverDrops), 0)
}

func TestBus_CloseClosesObservers(t *testing.T) {
	bus, _ := quietBus()
	events, _ := bus.Observe(1)

	require.NoError(t, bus.Close(context.Background()))
	_, ok := <-events
	assert.False(t, ok)

	late, _ := bus.Observe(1)
	_, ok = <-late
	assert.False(t, ok, "observing a closed bus yields a closed channel")
}

func TestBus_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := eventbus.NewMetrics(reg)
	bus, _ := quietBus(eventbus.WithMetrics(metrics))

	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error { return nil }))
	require.NoError(t, bus.Register(chatKey, func(context.Context, plugin.Event) error { return errors.New("x") }))

	_, err := bus.Publish(context.Background(), chatKey, nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("client")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.HandlerResults.WithLabelValues("client", eventbus.StatusSuccess)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.HandlerResults.WithLabelValues("client", eventbus.StatusError)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.HandlerDuration))
}
