// Package metrics defines the observability ports for the collaboration
// core. The interfaces here are optional everywhere they are consumed; pass
// nil to disable collection with zero overhead. The Prometheus
// implementation lives in the prometheus subpackage.
package metrics

import "time"

// CollabMetrics provides observability for the room manager and OT engine.
type CollabMetrics interface {
	// RecordOperation records a completed OT_OP with its type
	// (insert/delete/noop), outcome status (applied, rate_limited,
	// stale_base, duplicate, error) and processing latency.
	RecordOperation(opType string, status string, duration time.Duration)

	// RecordConflictResolved counts an apply that had to transform against
	// at least one concurrent operation.
	RecordConflictResolved()

	// RecordRateLimitRejection counts an operation rejected by the
	// per-client rate limiter.
	RecordRateLimitRejection()

	// SetRoomCount updates the live room gauge.
	SetRoomCount(count int)

	// SetQueueDepth updates the aggregate pending-broadcast gauge (sum of
	// unsent frames across session queues).
	SetQueueDepth(depth int)
}

// SessionMetrics provides observability for the websocket adapter.
type SessionMetrics interface {
	// SetActiveSessions updates the live session gauge.
	SetActiveSessions(count int)

	// RecordFrame counts a processed frame by type and direction
	// ("in" or "out").
	RecordFrame(frameType string, direction string)

	// RecordSessionClosed counts a closed session by reason
	// (client, idle_timeout, queue_overflow, error, shutdown).
	RecordSessionClosed(reason string)
}
