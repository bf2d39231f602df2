package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/ingest"
	"github.com/notifyhub/stargazer-relay/internal/service"
	"github.com/notifyhub/stargazer-relay/internal/worker"
)

// Metrics groups all Prometheus instruments used across the relay.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	reg prometheus.Registerer

	FramesReceived  prometheus.Counter
	FramesDropped   prometheus.Counter
	Reconnects      prometheus.Counter
	UpstreamUp      prometheus.Gauge
	EventsProcessed *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	DispatchLatency prometheus.Histogram
	Deliveries      *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	SkippedRecords  prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,

		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Frames read from the upstream connection and queued.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames discarded because the bounded queue was full.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_reconnects_total",
			Help: "Reconnect attempts after a transient upstream failure.",
		}),
		UpstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_upstream_connected",
			Help: "1 while the upstream connection is open.",
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Frames handled by workers, by outcome.",
		}, []string{"outcome"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatches_total",
			Help: "Fan-out calls, by result.",
		}, []string{"result"}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_dispatch_seconds",
			Help:    "Duration of a fan-out call from registry lookup until all sends settled.",
			Buckets: prometheus.DefBuckets,
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Per-recipient sends, by scope and result.",
		}, []string{"scope", "result"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_delivery_seconds",
			Help:    "Latency of successful per-recipient sends.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		SkippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscriber_records_skipped_total",
			Help: "Registry records ignored as foreign or unparseable.",
		}),
	}

	reg.MustRegister(
		m.FramesReceived,
		m.FramesDropped,
		m.Reconnects,
		m.UpstreamUp,
		m.EventsProcessed,
		m.Dispatches,
		m.DispatchLatency,
		m.Deliveries,
		m.DeliveryLatency,
		m.SkippedRecords,
	)

	return m
}

// WatchQueue exposes the queue depth, sampled on every scrape.
func (m *Metrics) WatchQueue(depth func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Frames waiting for a worker.",
	}, func() float64 { return float64(depth()) }))
}

// IngestHooks returns the callbacks expected by ingest.NewChannel.
func (m *Metrics) IngestHooks() ingest.Hooks {
	return ingest.Hooks{
		OnConnected:    func() { m.UpstreamUp.Set(1) },
		OnDisconnected: func() { m.UpstreamUp.Set(0) },
		OnReconnect:    func(time.Duration) { m.Reconnects.Inc() },
		OnFrame:        func() { m.FramesReceived.Inc() },
		OnDropped:      func() { m.FramesDropped.Inc() },
	}
}

// WorkerHooks returns the callbacks expected by worker.NewPool.
// Centralises the prometheus observation calls so the worker stays import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnDecoded:      func(string) { m.EventsProcessed.WithLabelValues("decoded").Inc() },
		OnMalformed:    func() { m.EventsProcessed.WithLabelValues("malformed").Inc() },
		OnUnrenderable: func() { m.EventsProcessed.WithLabelValues("unrenderable").Inc() },
		OnDuplicate:    func() { m.EventsProcessed.WithLabelValues("duplicate").Inc() },
		OnDispatched: func(_ string, latency time.Duration, err error) {
			m.DispatchLatency.Observe(latency.Seconds())
			m.Dispatches.WithLabelValues(dispatchResult(err)).Inc()
		},
	}
}

// DeliveryHooks returns the callbacks expected by service.NewDispatcher.
func (m *Metrics) DeliveryHooks() service.DeliveryHooks {
	return service.DeliveryHooks{
		OnDelivered: func(scope domain.Scope, latency time.Duration) {
			m.Deliveries.WithLabelValues(string(scope), "ok").Inc()
			m.DeliveryLatency.WithLabelValues(string(scope)).Observe(latency.Seconds())
		},
		OnFailed: func(scope domain.Scope) {
			m.Deliveries.WithLabelValues(string(scope), "failed").Inc()
		},
		OnSkipped: func() { m.SkippedRecords.Inc() },
	}
}

func dispatchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, service.ErrRegistry):
		return "registry_error"
	default:
		return "error"
	}
}
