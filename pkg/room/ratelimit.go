package room

import "time"

// Frame costs against the per-client rate window. Document operations cost
// a full unit; cursor updates are cheaper so presence stays fluid while a
// client is typing near the cap.
const (
	costOperation    = 1.0
	costCursorUpdate = 0.25
)

// slidingWindow is a per-client rate limiter over a fixed time window.
// Callers serialize access through the owning room's lock.
type slidingWindow struct {
	window time.Duration
	max    float64

	events []windowEvent
}

type windowEvent struct {
	at   time.Time
	cost float64
}

func newSlidingWindow(window time.Duration, max int) *slidingWindow {
	return &slidingWindow{window: window, max: float64(max)}
}

// allow records an event of the given cost if it fits in the window and
// reports whether it was admitted. Rejected events are not recorded, so a
// client that keeps hammering does not extend its own penalty.
func (w *slidingWindow) allow(now time.Time, cost float64) bool {
	w.prune(now)

	total := cost
	for _, e := range w.events {
		total += e.cost
	}
	if total > w.max {
		return false
	}

	w.events = append(w.events, windowEvent{at: now, cost: cost})
	return true
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := 0
	for _, e := range w.events {
		if e.at.After(cutoff) {
			w.events[keep] = e
			keep++
		}
	}
	w.events = w.events[:keep]
}
