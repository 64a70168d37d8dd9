// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"log/slog"
	"sync"

	"github.com/holomush/plugbus/pkg/plugin"
)

// tap copies every published event to observers. It is how the host sees
// what plugins emit.
type tap struct {
	mu      sync.RWMutex
	subs    []chan plugin.Event
	closed  bool
	metrics *Metrics
	logger  *slog.Logger
}

func (t *tap) subscribe(buffer int) chan plugin.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan plugin.Event, buffer)
	if t.closed {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

func (t *tap) unsubscribe(ch chan plugin.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (t *tap) broadcast(event plugin.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
			t.metrics.recordDrop()
			t.logger.Warn("event dropped: observer buffer full",
				"key", event.Key.String(),
				"event_id", event.ID.String(),
			)
		}
	}
}

func (t *tap) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}
