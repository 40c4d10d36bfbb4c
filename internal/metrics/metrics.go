// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the server's collectors around one registry.
type Metrics struct {
	registry *prometheus.Registry

	Rooms       prometheus.Gauge
	Connections prometheus.Gauge
	Events      *prometheus.CounterVec // inbound events by name
	Commits     *prometheus.CounterVec // history entries by kind
	Evictions   prometheus.Counter
	Dropped     prometheus.Counter // outbound frames lost to full queues
	Expired     prometheus.Counter
}

// New creates and registers every collector on a fresh registry, along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomboard",
			Name:      "rooms",
			Help:      "Live rooms.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomboard",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "events_total",
			Help:      "Inbound client events by name.",
		}, []string{"event"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "commits_total",
			Help:      "Entries committed to room history by kind.",
		}, []string{"kind"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "history_evictions_total",
			Help:      "History entries evicted because a room was at capacity.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because a connection queue was full.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "rooms_expired_total",
			Help:      "Rooms removed by the inactivity sweep.",
		}),
	}
	m.registry.MustRegister(
		m.Rooms, m.Connections, m.Events, m.Commits, m.Evictions, m.Dropped, m.Expired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
