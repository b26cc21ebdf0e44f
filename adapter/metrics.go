// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the adapter's Prometheus collectors.
type Metrics struct {
	outbound     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	inbound      prometheus.Counter
	receipts     prometheus.Counter
	logins       prometheus.Counter
	devicesAcked prometheus.Counter
	state        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "outbound_calls_total",
			Help:      "Outbound homeserver calls by operation and result.",
		}, []string{"operation", "result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "retries_total",
			Help:      "Rate-limit retries by operation.",
		}, []string{"operation"}),
		inbound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "inbound_messages_total",
			Help:      "Text messages delivered to the consumer.",
		}),
		receipts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "read_receipts_total",
			Help:      "Read receipts sent.",
		}),
		logins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "logins_total",
			Help:      "Password logins performed.",
		}),
		devicesAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matrixbot",
			Name:      "devices_acknowledged_total",
			Help:      "Unknown devices acknowledged before a resend.",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "matrixbot",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 authenticating, 2 syncing, 3 prepared, 4 degraded.",
		}),
	}
}

func (m *Metrics) outboundResult(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outbound.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) setState(state ConnectionState) {
	m.state.Set(float64(state))
}
