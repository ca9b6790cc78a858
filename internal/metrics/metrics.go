// Package metrics exposes counting and ingestion metrics in Prometheus
// format. All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "footfall"

// Crossing kinds
const (
	KindPasserby     = "passerby"
	KindEntrant      = "entrant"
	KindReclassified = "reclassified"
)

// Metrics holds all application metrics
type Metrics struct {
	registry *prometheus.Registry

	framesProcessed  *prometheus.CounterVec
	streamReconnects *prometheus.CounterVec
	crossings        *prometheus.CounterVec
	trackerErrors    *prometheus.CounterVec
	trackerLatency   *prometheus.HistogramVec
	previewDropped   *prometheus.CounterVec
	sessionsStarted  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	persistErrors    *prometheus.CounterVec
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames run through tracking and classification",
		}, []string{"camera_id"}),
		streamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Decoder restarts after a broken stream",
		}, []string{"camera_id"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossings_total",
			Help:      "Track classifications by kind",
		}, []string{"camera_id", "kind"}),
		trackerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Failed tracker requests",
		}, []string{"camera_id"}),
		trackerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracker_request_seconds",
			Help:      "Tracker request duration",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"camera_id"}),
		previewDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_frames_dropped_total",
			Help:      "Preview frames evicted before a viewer read them",
		}, []string{"camera_id"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Live sessions started",
		}, []string{"camera_id"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Live sessions ended, by outcome",
		}, []string{"camera_id", "outcome"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed count snapshot writes",
		}, []string{"camera_id"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesProcessed,
		m.streamReconnects,
		m.crossings,
		m.trackerErrors,
		m.trackerLatency,
		m.previewDropped,
		m.sessionsStarted,
		m.sessionsEnded,
		m.persistErrors,
	)

	return m
}

// RegisterGaugeFunc exposes a value computed at scrape time, such as the
// number of active sessions
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// FrameProcessed counts one classified frame
func (m *Metrics) FrameProcessed(cameraID string) {
	if m == nil {
		return
	}
	m.framesProcessed.WithLabelValues(cameraID).Inc()
}

// StreamReconnected counts one decoder restart
func (m *Metrics) StreamReconnected(cameraID string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(cameraID).Inc()
}

// Crossing counts one classification of the given kind
func (m *Metrics) Crossing(cameraID, kind string) {
	if m == nil {
		return
	}
	m.crossings.WithLabelValues(cameraID, kind).Inc()
}

// TrackerRequest records the outcome and duration of a tracker call
func (m *Metrics) TrackerRequest(cameraID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.trackerErrors.WithLabelValues(cameraID).Inc()
		return
	}
	m.trackerLatency.WithLabelValues(cameraID).Observe(d.Seconds())
}

// PreviewDropped counts evicted preview frames
func (m *Metrics) PreviewDropped(cameraID string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.previewDropped.WithLabelValues(cameraID).Add(float64(n))
}

// SessionStarted counts a started live session
func (m *Metrics) SessionStarted(cameraID string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(cameraID).Inc()
}

// SessionEnded counts a finished live session; outcome is "done" or "failed"
func (m *Metrics) SessionEnded(cameraID, outcome string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(cameraID, outcome).Inc()
}

// PersistFailed counts a failed count snapshot write
func (m *Metrics) PersistFailed(cameraID string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(cameraID).Inc()
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
