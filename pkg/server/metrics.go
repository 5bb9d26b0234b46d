// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// Request outcomes, used as the metrics' label.
const (
	outcomeOK           = "ok"
	outcomeUnauthorized = "unauthorized"
	outcomeUnknown      = "unknown_opcode"
	outcomeRemoteError  = "remote_error"
	outcomeFailure      = "failure"
	outcomePanic        = "panic"
)

type metrics struct {
	sessions        *prometheus.GaugeVec
	requests        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "acctwire",
				Subsystem: "server",
				Name:      "sessions",
				Help:      "Number of accepted sessions",
			},
			[]string{"kind"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acctwire",
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Total number of handled requests by outcome",
			},
			[]string{"kind", "outcome"},
		),
		handlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "acctwire",
				Subsystem: "server",
				Name:      "handler_duration_seconds",
				Help:      "Duration of handler invocations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
			},
			[]string{"kind"},
		),
	}
}

func (m *metrics) request(kind account.Kind, outcome string, duration time.Duration) {
	m.requests.WithLabelValues(string(kind), outcome).Inc()
	if outcome != outcomeUnauthorized && outcome != outcomeUnknown {
		m.handlerDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	}
}
