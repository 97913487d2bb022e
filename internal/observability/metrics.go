package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central Prometheus metric set for the collaboration core.
type Metrics struct {
	// ActiveConnections tracks open websocket connections.
	ActiveConnections prometheus.Gauge

	// RoomOccupancy tracks joined clients per canvas room.
	RoomOccupancy *prometheus.GaugeVec

	// EventsForwarded counts ephemeral-store events fanned out to rooms.
	// Labels: type (USER_JOINED, NODE_LOCKED, ...)
	EventsForwarded *prometheus.CounterVec

	// CollabOperations counts collaboration service calls.
	// Labels: operation, status (success|error)
	CollabOperations *prometheus.CounterVec

	// LockContention counts lock acquisitions refused because another user
	// holds the lock.
	LockContention prometheus.Counter

	// CursorThrottled counts cursor updates dropped by the throttle.
	CursorThrottled prometheus.Counter

	// ActivityBatchSize observes the number of activities coalesced per
	// persisted batch record.
	ActivityBatchSize prometheus.Histogram

	// StoreRoundTrips measures ephemeral/durable store call latency.
	// Labels: store (redis|postgres), operation
	StoreRoundTrips *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics creates and registers the metric set once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arbor_ws_active_connections",
				Help: "Current number of open websocket connections",
			}),
			RoomOccupancy: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "arbor_room_occupancy",
				Help: "Joined clients per canvas room",
			}, []string{"canvas_id"}),
			EventsForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_events_forwarded_total",
				Help: "Collaboration events forwarded to canvas rooms",
			}, []string{"type"}),
			CollabOperations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_collab_operations_total",
				Help: "Collaboration service operations by status",
			}, []string{"operation", "status"}),
			LockContention: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arbor_lock_contention_total",
				Help: "Lock acquisitions refused because the lock was held",
			}),
			CursorThrottled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arbor_cursor_throttled_total",
				Help: "Cursor updates dropped by the per-user throttle",
			}),
			ActivityBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "arbor_activity_batch_size",
				Help:    "Activities coalesced per persisted batch",
				Buckets: []float64{1, 2, 3, 5, 8, 10},
			}),
			StoreRoundTrips: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "arbor_store_roundtrip_seconds",
				Help:    "Latency of ephemeral and durable store calls",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"store", "operation"}),
		}
	})
	return metricsInstance
}

// RecordOperation increments the operation counter; nil-safe so callers can
// run without metrics in tests.
func (m *Metrics) RecordOperation(op string, err error) {
	if m == nil || m.CollabOperations == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.CollabOperations.WithLabelValues(op, status).Inc()
}

// AddActiveConnections adjusts the websocket connection gauge; nil-safe.
func (m *Metrics) AddActiveConnections(delta float64) {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Add(delta)
}

// RecordLockContention counts a refused lock acquisition; nil-safe.
func (m *Metrics) RecordLockContention() {
	if m == nil || m.LockContention == nil {
		return
	}
	m.LockContention.Inc()
}

// RecordCursorThrottled counts a dropped cursor update; nil-safe.
func (m *Metrics) RecordCursorThrottled() {
	if m == nil || m.CursorThrottled == nil {
		return
	}
	m.CursorThrottled.Inc()
}

// RecordEventForwarded counts an event fanned out to a room; nil-safe.
func (m *Metrics) RecordEventForwarded(eventType string) {
	if m == nil || m.EventsForwarded == nil {
		return
	}
	m.EventsForwarded.WithLabelValues(eventType).Inc()
}

// RecordActivityBatch observes a persisted batch size; nil-safe.
func (m *Metrics) RecordActivityBatch(size int) {
	if m == nil || m.ActivityBatchSize == nil {
		return
	}
	m.ActivityBatchSize.Observe(float64(size))
}

// SetRoomOccupancy reports the current room size for a canvas; nil-safe.
func (m *Metrics) SetRoomOccupancy(canvasID string, n int) {
	if m == nil || m.RoomOccupancy == nil {
		return
	}
	m.RoomOccupancy.WithLabelValues(canvasID).Set(float64(n))
}
