// ABOUTME: Prometheus metrics for the sync coordinator
// ABOUTME: Snapshot gauges from Coordinator.Status plus counters fed by events
package metrics

import (
	"net/http"

	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resonate_sync"

// StatusFunc returns a coordinator snapshot
type StatusFunc func() resonate.Status

// Metrics owns a registry with the coordinator collector and event counters
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	adjustments  *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	overflows    *prometheus.CounterVec
}

// New registers the collectors. status is called on every scrape.
func New(status StatusFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Coordinator events by type.",
		}, []string{"type"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_adjustment_ms_total",
			Help:      "Absolute checkpoint buffer adjustment applied per device.",
		}, []string{"device"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Chunks a device sink refused.",
		}, []string{"device"}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_overflows_total",
			Help:      "Ring buffer writes above the overflow threshold.",
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		newCollector(status),
		m.events,
		m.adjustments,
		m.sinkFailures,
		m.overflows,
	)
	return m
}

// Observe counts one coordinator event. Safe to call from OnEvent.
func (m *Metrics) Observe(ev resonate.Event) {
	m.events.WithLabelValues(eventName(ev)).Inc()

	switch e := ev.(type) {
	case resonate.CheckpointAdjusted:
		adj := e.AdjustmentMs
		if adj < 0 {
			adj = -adj
		}
		m.adjustments.WithLabelValues(e.DeviceID).Add(adj)
	case resonate.SinkFailed:
		m.sinkFailures.WithLabelValues(e.DeviceID).Inc()
	case resonate.BufferOverflow:
		m.overflows.WithLabelValues(e.Overflow.DeviceID).Inc()
	case resonate.DeviceDisconnected:
		m.adjustments.DeleteLabelValues(e.DeviceID)
		m.sinkFailures.DeleteLabelValues(e.DeviceID)
		m.overflows.DeleteLabelValues(e.DeviceID)
	}
}

func eventName(ev resonate.Event) string {
	switch ev.(type) {
	case resonate.DeviceConnected:
		return "device_connected"
	case resonate.DeviceDisconnected:
		return "device_disconnected"
	case resonate.MeasurementCompleted:
		return "measurement_completed"
	case resonate.MeasurementFailed:
		return "measurement_failed"
	case resonate.SyncFailed:
		return "sync_failed"
	case resonate.CorrectionApplied:
		return "correction_applied"
	case resonate.BufferOverflow:
		return "buffer_overflow"
	case resonate.DeviceStarted:
		return "device_started"
	case resonate.CheckpointAdjusted:
		return "checkpoint_adjusted"
	case resonate.DeviceCompleted:
		return "device_completed"
	case resonate.PlaybackCompleted:
		return "playback_completed"
	case resonate.SinkFailed:
		return "sink_failed"
	default:
		return "unknown"
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
