// Package metrics exposes Prometheus metrics for the recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screen-hr-sync/internal/recording"
)

// Metrics holds all Prometheus metrics for the recorder.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// Capture metrics
	ChunksTotal        prometheus.Counter
	ChunkBytesTotal    prometheus.Counter
	DroppedChunksTotal prometheus.Counter

	// Sensor metrics
	HeartRateSamplesTotal *prometheus.CounterVec

	// Session metrics
	SessionsTotal  *prometheus.CounterVec
	RecordingState prometheus.Gauge

	// Conversion metrics
	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance registered on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hrsync"
	}

	registry := prometheus.NewRegistry()

	chunksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Total number of recorded chunks",
	})

	chunkBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_bytes_total",
		Help:      "Total bytes of recorded chunks",
	})

	droppedChunksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_chunks_total",
		Help:      "Chunks delivered while not recording",
	})

	heartRateSamplesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heart_rate_samples_total",
			Help:      "Heart-rate samples received",
		},
		[]string{"device"},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished recording sessions by outcome",
		},
		[]string{"outcome"},
	)

	recordingState := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recording_state",
		Help:      "Current session state (0 idle, 1 recording, 2 paused, 3 stopped)",
	})

	conversionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Transcoding attempts by status",
		},
		[]string{"status"},
	)

	conversionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "conversion_duration_seconds",
		Help:      "Transcoding duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	registry.MustRegister(
		chunksTotal,
		chunkBytesTotal,
		droppedChunksTotal,
		heartRateSamplesTotal,
		sessionsTotal,
		recordingState,
		conversionsTotal,
		conversionDuration,
	)

	return &Metrics{
		registry:              registry,
		namespace:             namespace,
		ChunksTotal:           chunksTotal,
		ChunkBytesTotal:       chunkBytesTotal,
		DroppedChunksTotal:    droppedChunksTotal,
		HeartRateSamplesTotal: heartRateSamplesTotal,
		SessionsTotal:         sessionsTotal,
		RecordingState:        recordingState,
		ConversionsTotal:      conversionsTotal,
		ConversionDuration:    conversionDuration,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnTransition tracks the current session state.
func (m *Metrics) OnTransition(t recording.Transition) {
	m.RecordingState.Set(float64(t.To))
}

// OnChunk counts delivered chunks.
func (m *Metrics) OnChunk(size int, accepted bool) {
	if !accepted {
		m.DroppedChunksTotal.Inc()
		return
	}
	m.ChunksTotal.Inc()
	m.ChunkBytesTotal.Add(float64(size))
}

// RecordHeartRate counts one received sample.
func (m *Metrics) RecordHeartRate(device string) {
	m.HeartRateSamplesTotal.WithLabelValues(device).Inc()
}

// RecordSession counts a finished session, e.g. "exported" or "failed".
func (m *Metrics) RecordSession(outcome string) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConversion records one transcoding attempt.
func (m *Metrics) RecordConversion(err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ConversionsTotal.WithLabelValues(status).Inc()
	m.ConversionDuration.Observe(duration.Seconds())
}
