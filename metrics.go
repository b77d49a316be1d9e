// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keylb

import "github.com/prometheus/client_golang/prometheus"

// Request outcome label values.
const (
	outcomeOK         = "ok"
	outcomeNoGroup    = "no_group"
	outcomeNoBackend  = "no_backend"
	outcomeBadAddress = "bad_address"
	outcomeRejected   = "rejected"
)

// Routing mode label values.
const (
	modeKey  = "key"
	modeHost = "host"
)

type metrics struct {
	registerer         prometheus.Registerer
	requestsTotal      *prometheus.CounterVec
	connectionsCreated prometheus.Counter
	connectionsClosed  prometheus.Counter
	activeConnections  prometheus.Gauge
	syntheticBackends  prometheus.Gauge
	syntheticEvictions prometheus.Counter
}

func newMetrics(group string, registerer prometheus.Registerer) *metrics {
	labels := prometheus.Labels{"group": group}
	m := &metrics{
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "keylb",
				Name:        "requests_total",
				Help:        "Requests routed through the pool, by routing mode and outcome",
				ConstLabels: labels,
			},
			[]string{"mode", "outcome"},
		),
		connectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "keylb",
			Name:        "connections_created_total",
			Help:        "Backend connections created",
			ConstLabels: labels,
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "keylb",
			Name:        "connections_closed_total",
			Help:        "Backend connections closed",
			ConstLabels: labels,
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "keylb",
			Name:        "active_connections",
			Help:        "Backend connections currently open",
			ConstLabels: labels,
		}),
		syntheticBackends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "keylb",
			Name:        "synthetic_backends",
			Help:        "Backends created on demand for direct addressing",
			ConstLabels: labels,
		}),
		syntheticEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "keylb",
			Name:        "synthetic_evictions_total",
			Help:        "Synthetic backends dropped, by LRU bound or group teardown",
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.collectors()...)
	return m
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.connectionsCreated,
		m.connectionsClosed,
		m.activeConnections,
		m.syntheticBackends,
		m.syntheticEvictions,
	}
}

// unregister releases the group's collectors so a later pool for the
// same group can register against the same registerer.
func (m *metrics) unregister() {
	for _, collector := range m.collectors() {
		m.registerer.Unregister(collector)
	}
}
