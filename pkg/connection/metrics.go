// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// Metrics of a Manager and of the calls made over its Connections.
type Metrics struct {
	connections *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
}

// NewMetrics registers all metrics on the Registerer. A nil Registerer leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "acctwire",
				Subsystem: "connection",
				Name:      "open",
				Help:      "Number of pooled connections, excluding closed ones",
			},
			[]string{"kind"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acctwire",
				Subsystem: "connection",
				Name:      "transitions_total",
				Help:      "Total number of connection state transitions",
			},
			[]string{"kind", "state"},
		),
		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acctwire",
				Subsystem: "connection",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
			[]string{"kind", "result"},
		),
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acctwire",
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Total number of calls by outcome",
			},
			[]string{"kind", "outcome"},
		),
		callLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "acctwire",
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Duration of successful calls in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) transition(kind account.Kind, from, to State) {
	m.transitions.WithLabelValues(string(kind), to.String()).Inc()

	switch {
	case from == Disconnected && to != Disconnected:
		m.connections.WithLabelValues(string(kind)).Inc()
	case from != Closed && from != Disconnected && to == Closed:
		m.connections.WithLabelValues(string(kind)).Dec()
	}
}

func (m *Metrics) reconnect(kind account.Kind, err error) {
	res := "success"
	if err != nil {
		res = "failure"
	}
	m.reconnects.WithLabelValues(string(kind), res).Inc()
}

// ObserveCall records a finished call's outcome, e.g., "ok", "remote_error",
// "timeout" or "connection_lost". The latency is only recorded for "ok".
func (m *Metrics) ObserveCall(kind account.Kind, outcome string, latency time.Duration) {
	m.calls.WithLabelValues(string(kind), outcome).Inc()
	if outcome == "ok" {
		m.callLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
	}
}
