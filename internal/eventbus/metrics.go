// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status labels for handler metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the bus's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	HandlerResults  *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	ObserverDrops   prometheus.Counter
}

// NewMetrics creates and registers the bus metrics.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugbus_events_published_total",
				Help: "Total number of events published by category",
			},
			[]string{"category"},
		),
		HandlerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugbus_handler_invocations_total",
				Help: "Total number of handler invocations by category and status",
			},
			[]string{"category", "status"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugbus_handler_duration_seconds",
				Help:    "Handler execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		ObserverDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugbus_observer_drops_total",
				Help: "Total number of events dropped because an observer buffer was full",
			},
		),
	}

	reg.MustRegister(m.EventsPublished)
	reg.MustRegister(m.HandlerResults)
	reg.MustRegister(m.HandlerDuration)
	reg.MustRegister(m.ObserverDrops)

	return m
}

func (m *Metrics) recordPublish(category string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(category).Inc()
}

func (m *Metrics) recordHandler(category string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.HandlerResults.WithLabelValues(category, status).Inc()
	m.HandlerDuration.WithLabelValues(category).Observe(d.Seconds())
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.ObserverDrops.Inc()
}
