package room

import (
	"sync"
	"time"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// participant is one room member's presence state.
type participant struct {
	userID   string
	joinedAt time.Time
	cursor   *protocol.Cursor
	userInfo map[string]any
}

// room owns one document and everyone attached to it. All mutable state is
// guarded by mu; the manager takes the lock once per inbound frame, which
// gives strict per-room serialization while independent rooms proceed in
// parallel.
type room struct {
	id string

	mu           sync.Mutex
	doc          *ot.DocumentState
	participants map[string]*participant  // clientID -> presence
	sessions     map[string]SessionHandle // clientID -> live connection
	limiters     map[string]*slidingWindow

	// restoredCursors holds cursors loaded from persistence at room
	// creation, keyed by userID, consumed as users join.
	restoredCursors map[string]protocol.Cursor

	createdAt    time.Time
	lastActivity time.Time

	lastSnapshotVersion int
	lastSnapshotAt      time.Time
	snapshotInFlight    bool

	// closed is set by the reaper once the room has been removed from the
	// manager's map; joiners holding a stale pointer retry.
	closed bool
}

func newRoom(id string, doc *ot.DocumentState, now time.Time) *room {
	return &room{
		id:                  id,
		doc:                 doc,
		participants:        make(map[string]*participant),
		sessions:            make(map[string]SessionHandle),
		limiters:            make(map[string]*slidingWindow),
		restoredCursors:     make(map[string]protocol.Cursor),
		createdAt:           now,
		lastActivity:        now,
		lastSnapshotVersion: doc.SnapshotVersion(),
		lastSnapshotAt:      now,
	}
}

// participantList returns the current members as wire participants.
// Caller holds r.mu.
func (r *room) participantList() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.participants))
	for clientID, p := range r.participants {
		wp := protocol.Participant{
			ClientID: clientID,
			UserID:   p.userID,
			JoinedAt: p.joinedAt,
			UserInfo: p.userInfo,
		}
		if p.cursor != nil {
			c := *p.cursor
			wp.Cursor = &c
		}
		out = append(out, wp)
	}
	return out
}

// cursorStates returns the last known cursor per user. Caller holds r.mu.
func (r *room) cursorStates() []protocol.CursorState {
	out := make([]protocol.CursorState, 0, len(r.participants))
	for _, p := range r.participants {
		if p.cursor == nil {
			continue
		}
		out = append(out, protocol.CursorState{UserID: p.userID, Cursor: *p.cursor})
	}
	return out
}

// pendingDepth sums unsent frames across the room's session queues.
// Caller holds r.mu.
func (r *room) pendingDepth() int {
	depth := 0
	for _, s := range r.sessions {
		depth += s.QueueDepth()
	}
	return depth
}

// limiter returns the client's rate window, creating it on first use.
// Caller holds r.mu.
func (r *room) limiter(clientID string, window time.Duration, max int) *slidingWindow {
	w, ok := r.limiters[clientID]
	if !ok {
		w = newSlidingWindow(window, max)
		r.limiters[clientID] = w
	}
	return w
}

// remove drops a client from the room. Caller holds r.mu.
func (r *room) remove(clientID string, now time.Time) {
	delete(r.participants, clientID)
	delete(r.sessions, clientID)
	delete(r.limiters, clientID)
	r.lastActivity = now
}

// empty reports whether no connections remain. Caller holds r.mu.
func (r *room) empty() bool {
	return len(r.sessions) == 0
}
