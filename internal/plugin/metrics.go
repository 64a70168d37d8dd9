// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lifecycle phases used as metric labels.
const (
	PhaseRegister = "register"
	PhaseInit     = "init"
	PhaseLoad     = "load"
	PhaseDeliver  = "deliver"
	PhaseShutdown = "shutdown"
)

// Metrics holds plugin host collectors. A nil *Metrics records nothing.
type Metrics struct {
	PluginsActive  prometheus.Gauge
	PluginFailures *prometheus.CounterVec
	EmitsRejected  *prometheus.CounterVec
}

// NewMetrics creates and registers the plugin host metrics.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PluginsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plugbus_plugins_active",
			Help: "Number of plugins that completed initialization",
		}),
		PluginFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugbus_plugin_failures_total",
				Help: "Total number of plugin failures by plugin and lifecycle phase",
			},
			[]string{"plugin", "phase"},
		),
		EmitsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugbus_plugin_emits_rejected_total",
				Help: "Total number of events a scripted plugin was not allowed to emit",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(m.PluginsActive)
	reg.MustRegister(m.PluginFailures)
	reg.MustRegister(m.EmitsRejected)

	return m
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.PluginsActive.Set(float64(n))
}

func (m *Metrics) recordFailure(plugin, phase string) {
	if m == nil {
		return
	}
	m.PluginFailures.WithLabelValues(plugin, phase).Inc()
}

func (m *Metrics) recordRejectedEmit(plugin string) {
	if m == nil {
		return
	}
	m.EmitsRejected.WithLabelValues(plugin).Inc()
}
