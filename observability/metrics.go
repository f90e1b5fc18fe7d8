// Package observability exposes the delivery core's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveQueues tracks live client event queues.
	ActiveQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "queues",
			Name:      "active",
			Help:      "Number of live client event queues",
		},
	)

	// EventsDispatched counts events fanned out, by event type.
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Events dispatched to client queues, by event type",
		},
		[]string{"type"},
	)

	// QueuesReaped counts expired queues removed by the GC sweep.
	QueuesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "queues",
			Name:      "reaped_total",
			Help:      "Expired event queues removed by garbage collection",
		},
	)

	// SnapshotDuration measures queue snapshot dump time.
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "snapshot",
			Name:      "dump_duration_seconds",
			Help:      "Time spent dumping the queue snapshot to disk",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// SnapshotFailures counts failed snapshot dumps; the next scheduled
	// dump retries, so failures are a warning sign, not an outage.
	SnapshotFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "snapshot",
			Name:      "failures_total",
			Help:      "Failed queue snapshot dumps",
		},
	)

	// HTTPRequestsTotal counts API requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration measures API request latency. Long-poll waits
	// dominate the tail; the buckets stretch accordingly.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 30, 60, 90},
		},
		[]string{"method", "route"},
	)
)
