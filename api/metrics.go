// Package api exposes the fusion pipeline over HTTP and an Arrow IPC socket,
// together with its Prometheus metrics.
package api

import (
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fusion service.
type Metrics struct {
	// Fusion metrics
	StepsTotal      prometheus.Counter
	ResultsTotal    *prometheus.CounterVec
	DroppedReadings prometheus.Counter
	FlagTransitions *prometheus.CounterVec
	Estimate        prometheus.Gauge
	Confidence      prometheus.Gauge
	FlaggedSensors  prometheus.Gauge
	Spread          prometheus.Histogram

	// Pipeline metrics
	QueueDepth     prometheus.Gauge
	ResultsDropped prometheus.Gauge
	ArrowSessions  prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	lastFlagged map[engine.SensorID]bool
	mu          sync.Mutex
}

// NewMetrics creates metrics registered with reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of timesteps fused",
		}),
		ResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Fusion results by status",
		}, []string{"status"}),
		DroppedReadings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_readings_total",
			Help:      "Malformed readings dropped during ingest",
		}),
		FlagTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flag_transitions_total",
			Help:      "Sensor flag transitions by direction",
		}, []string{"direction"}),
		Estimate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimate",
			Help:      "Latest fused estimate",
		}),
		Confidence: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence of the latest result",
		}),
		FlaggedSensors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flagged_sensors",
			Help:      "Number of sensors currently flagged",
		}),
		Spread: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spread",
			Help:      "Spread of the contributing readings",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 50},
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Readings waiting in the pipeline queue",
		}),
		ResultsDropped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "results_dropped",
			Help:      "Results dropped because the result channel was full",
		}),
		ArrowSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arrow_sessions",
			Help:      "Open Arrow IPC sessions",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		lastFlagged: make(map[engine.SensorID]bool),
	}
}

// ObserveResult records one pipeline result. It is safe to register as a
// pipeline observer.
func (m *Metrics) ObserveResult(r engine.ConsensusResult) {
	m.StepsTotal.Inc()
	m.ResultsTotal.WithLabelValues(r.Status.String()).Inc()
	m.DroppedReadings.Add(float64(len(r.Dropped)))
	m.FlaggedSensors.Set(float64(len(r.Flagged)))
	m.Confidence.Set(r.Confidence)
	if r.Valid() {
		m.Estimate.Set(r.Estimate)
		m.Spread.Observe(r.Spread)
	}
	if len(r.Rehabilitated) > 0 {
		m.FlagTransitions.WithLabelValues("rehabilitated").Add(float64(len(r.Rehabilitated)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[engine.SensorID]bool, len(r.Flagged))
	for _, id := range r.Flagged {
		current[id] = true
		if !m.lastFlagged[id] {
			m.FlagTransitions.WithLabelValues("flagged").Inc()
		}
	}
	rehabilitated := make(map[engine.SensorID]bool, len(r.Rehabilitated))
	for _, id := range r.Rehabilitated {
		rehabilitated[id] = true
	}
	for id := range m.lastFlagged {
		if !current[id] && !rehabilitated[id] {
			m.FlagTransitions.WithLabelValues("recovered").Inc()
		}
	}
	m.lastFlagged = current
}

// UpdatePipeline copies pipeline gauges.
func (m *Metrics) UpdatePipeline(stats engine.PipelineStats) {
	m.QueueDepth.Set(float64(stats.QueueDepth))
	m.ResultsDropped.Set(float64(stats.ResultsDropped))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
