// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codedojo/codedojo/pkg/metrics"
)

// collabMetrics is the Prometheus implementation of metrics.CollabMetrics.
type collabMetrics struct {
	operations      *prometheus.CounterVec
	latency         prometheus.Histogram
	conflicts       prometheus.Counter
	rateLimited     prometheus.Counter
	roomCount       prometheus.Gauge
	queueDepth      prometheus.Gauge
}

// NewCollabMetrics creates a new Prometheus-backed CollabMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); callers
// treat a nil interface as "collection disabled".
func NewCollabMetrics() metrics.CollabMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &collabMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "codedojo_operations_total",
				Help: "Total document operations processed, by type and outcome",
			},
			[]string{"type", "status"},
		),
		latency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codedojo_operation_latency_milliseconds",
				Help:    "Operation processing latency from receipt to ACK in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		conflicts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "codedojo_conflicts_resolved_total",
				Help: "Operations that required transformation against concurrent operations",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "codedojo_rate_limit_rejections_total",
				Help: "Operations rejected by the per-client rate limiter",
			},
		),
		roomCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "codedojo_room_count",
				Help: "Rooms currently resident in memory",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "codedojo_queue_depth",
				Help: "Unsent frames pending across all session outbound queues",
			},
		),
	}
}

func (m *collabMetrics) RecordOperation(opType string, status string, duration time.Duration) {
	m.operations.WithLabelValues(opType, status).Inc()
	m.latency.Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *collabMetrics) RecordConflictResolved() {
	m.conflicts.Inc()
}

func (m *collabMetrics) RecordRateLimitRejection() {
	m.rateLimited.Inc()
}

func (m *collabMetrics) SetRoomCount(count int) {
	m.roomCount.Set(float64(count))
}

func (m *collabMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// sessionMetrics is the Prometheus implementation of metrics.SessionMetrics.
type sessionMetrics struct {
	active prometheus.Gauge
	frames *prometheus.CounterVec
	closed *prometheus.CounterVec
}

// NewSessionMetrics creates a new Prometheus-backed SessionMetrics instance,
// or nil when metrics are disabled.
func NewSessionMetrics() metrics.SessionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &sessionMetrics{
		active: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "codedojo_sessions_active",
				Help: "Live websocket sessions",
			},
		),
		frames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "codedojo_frames_total",
				Help: "Frames processed, by type and direction",
			},
			[]string{"type", "direction"},
		),
		closed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "codedojo_sessions_closed_total",
				Help: "Closed sessions by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *sessionMetrics) SetActiveSessions(count int) {
	m.active.Set(float64(count))
}

func (m *sessionMetrics) RecordFrame(frameType string, direction string) {
	m.frames.WithLabelValues(frameType, direction).Inc()
}

func (m *sessionMetrics) RecordSessionClosed(reason string) {
	m.closed.WithLabelValues(reason).Inc()
}
