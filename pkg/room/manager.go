// Package room implements the collaboration room manager: lazy room
// creation with recovery from persistence, presence, per-client rate limits,
// advisory backpressure, bounded fan-out, the idle-room reaper, and the
// snapshot policy.
//
// Concurrency model: one mutex per room serializes every mutation of that
// room's document, participants, and rate windows. Independent rooms proceed
// in parallel; there is no global lock on the hot path. Persistence writes
// are handed to a background worker and never block an apply.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codedojo/codedojo/internal/logger"
	"github.com/codedojo/codedojo/pkg/clock"
	"github.com/codedojo/codedojo/pkg/metrics"
	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// Options are the room manager tunables.
type Options struct {
	// RateWindow and RateMaxOps bound per-client submission rates.
	RateWindow time.Duration
	RateMaxOps int

	// BackpressureThreshold is the pending-broadcast depth at which the
	// submitter receives an advisory BACKPRESSURE frame.
	BackpressureThreshold int

	// RoomTTL and ReaperInterval control idle-room eviction.
	RoomTTL        time.Duration
	ReaperInterval time.Duration

	// SnapshotOps and SnapshotInterval trigger durable snapshots.
	SnapshotOps      int
	SnapshotInterval time.Duration

	// MaxParticipants caps concurrent members per room.
	MaxParticipants int

	// PersistQueueCap bounds the background persistence queue. Writes
	// beyond the cap are dropped with a warning rather than blocking.
	PersistQueueCap int
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		RateWindow:            time.Second,
		RateMaxOps:            50,
		BackpressureThreshold: 100,
		RoomTTL:               30 * time.Minute,
		ReaperInterval:        60 * time.Second,
		SnapshotOps:           500,
		SnapshotInterval:      10 * time.Minute,
		MaxParticipants:       50,
		PersistQueueCap:       1024,
	}
}

// persistTimeout bounds each background store call.
const persistTimeout = 10 * time.Second

// Manager owns every live room. It is the only component that creates,
// looks up, or destroys rooms; sessions reach their room exclusively
// through Manager methods.
type Manager struct {
	opts    Options
	store   persist.Store
	clk     clock.Clock
	ids     clock.IDGenerator
	collab  metrics.CollabMetrics

	mu    sync.RWMutex
	rooms map[string]*room

	persistCh chan func(ctx context.Context)
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a Manager and starts its background worker and reaper.
// collab may be nil to disable metrics.
func NewManager(opts Options, store persist.Store, clk clock.Clock, ids clock.IDGenerator, collab metrics.CollabMetrics) *Manager {
	m := &Manager{
		opts:      opts,
		store:     store,
		clk:       clk,
		ids:       ids,
		collab:    collab,
		rooms:     make(map[string]*room),
		persistCh: make(chan func(ctx context.Context), opts.PersistQueueCap),
		done:      make(chan struct{}),
	}

	m.wg.Add(2)
	go m.persistWorker()
	go m.reaperLoop()

	return m
}

// ============================================================================
// Frame handling
// ============================================================================

// Join handles JOIN_ROOM: create the room if absent (recovering state from
// persistence), register the participant, send JOIN_ROOM_ACK to the joiner,
// and announce PARTICIPANT_JOINED to peers. It reports whether the
// participant was registered.
func (m *Manager) Join(ctx context.Context, sess SessionHandle, f protocol.JoinRoom) bool {
	now := m.clk.Now()

	for {
		r, err := m.getOrCreateRoom(ctx, f.RoomID)
		if err != nil {
			corr := m.ids.NewID()
			logger.Error("room recovery failed",
				logger.KeyRoomID, f.RoomID,
				logger.KeyError, err,
				logger.KeyCorrelationID, corr)
			m.sendError(sess, protocol.ErrCodeInternal,
				fmt.Sprintf("failed to open room (correlation id %s)", corr), f.RoomID, f.ClientID)
			return false
		}

		r.mu.Lock()
		if r.closed {
			// Lost a race with the reaper; the room is gone from the map.
			r.mu.Unlock()
			continue
		}

		ok := m.joinLocked(r, sess, f, now)
		r.mu.Unlock()
		return ok
	}
}

// joinLocked performs the join under r.mu.
func (m *Manager) joinLocked(r *room, sess SessionHandle, f protocol.JoinRoom, now time.Time) bool {
	_, rejoining := r.participants[f.ClientID]
	if !rejoining && len(r.participants) >= m.opts.MaxParticipants {
		m.sendErrorLocked(r, sess, protocol.ErrCodeValidation,
			fmt.Sprintf("room is full (%d participants)", m.opts.MaxParticipants), f.ClientID)
		return false
	}

	p := r.participants[f.ClientID]
	if p == nil {
		p = &participant{
			userID:   f.UserID,
			joinedAt: now,
			userInfo: f.UserInfo,
		}
		if c, ok := r.restoredCursors[f.UserID]; ok && p.cursor == nil {
			cursor := c
			p.cursor = &cursor
		}
		r.participants[f.ClientID] = p
	}
	r.sessions[f.ClientID] = sess
	r.lastActivity = now

	snap := r.doc.Snapshot()
	m.send(r, sess, protocol.JoinRoomAck{
		Type:         protocol.FrameJoinRoomAck,
		RoomID:       r.id,
		ClientID:     f.ClientID,
		Version:      snap.Version,
		Content:      snap.Content,
		Participants: r.participantList(),
	})

	if !rejoining {
		m.broadcastExcept(r, f.ClientID, protocol.ParticipantEvent{
			Type:         protocol.FrameParticipantJoined,
			RoomID:       r.id,
			ClientID:     f.ClientID,
			UserID:       f.UserID,
			Participants: r.participantList(),
		})
	}

	logger.Info("participant joined",
		logger.KeyRoomID, r.id,
		logger.KeyClientID, f.ClientID,
		logger.KeyUserID, f.UserID,
		logger.KeyVersion, snap.Version)
	return true
}

// Leave handles LEAVE_ROOM: acknowledge, remove the participant, and
// announce PARTICIPANT_LEFT. The room itself stays resident for the reaper.
func (m *Manager) Leave(sess SessionHandle, f protocol.LeaveRoom) {
	r := m.lookup(f.RoomID)
	if r == nil {
		m.sendError(sess, protocol.ErrCodeUnknownRoom, "unknown room", f.RoomID, f.ClientID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[f.ClientID]
	if !ok {
		m.sendErrorLocked(r, sess, protocol.ErrCodeNotJoined, "not joined to this room", f.ClientID)
		return
	}

	m.send(r, sess, protocol.LeaveRoomAck{
		Type:     protocol.FrameLeaveRoomAck,
		RoomID:   r.id,
		ClientID: f.ClientID,
	})

	m.removeLocked(r, f.ClientID, p.userID)
}

// Disconnect removes a dropped connection from its room and announces
// PARTICIPANT_LEFT. Safe to call for sessions that never joined.
func (m *Manager) Disconnect(roomID, clientID string) {
	r := m.lookup(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[clientID]
	if !ok {
		return
	}
	m.removeLocked(r, clientID, p.userID)
}

// removeLocked drops a client and broadcasts PARTICIPANT_LEFT. Caller holds
// r.mu.
func (m *Manager) removeLocked(r *room, clientID, userID string) {
	r.remove(clientID, m.clk.Now())

	m.broadcastExcept(r, clientID, protocol.ParticipantEvent{
		Type:         protocol.FrameParticipantLeft,
		RoomID:       r.id,
		ClientID:     clientID,
		UserID:       userID,
		Participants: r.participantList(),
	})

	logger.Info("participant left",
		logger.KeyRoomID, r.id,
		logger.KeyClientID, clientID,
		logger.KeyUserID, userID)
}

// SubmitOp handles OT_OP: rate limit, backpressure advisory, transform and
// apply, ACK the submitter, broadcast to peers, and feed the snapshot policy.
func (m *Manager) SubmitOp(sess SessionHandle, f protocol.OTOp) {
	start := m.clk.Now()

	r := m.lookup(f.RoomID)
	if r == nil {
		m.sendError(sess, protocol.ErrCodeUnknownRoom, "unknown room", f.RoomID, f.ClientID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[f.ClientID]
	if !ok {
		m.sendErrorLocked(r, sess, protocol.ErrCodeNotJoined, "not joined to this room", f.ClientID)
		return
	}

	op := f.Op
	now := m.clk.Now()

	// Retransmission of an already-applied op: re-ACK, do not apply twice.
	// Checked before the limiter so a retry after a lost ACK is never
	// charged or rejected.
	if prev, ok := r.doc.FindApplied(f.ClientID, op.ID); ok {
		if m.collab != nil {
			m.collab.RecordOperation(string(op.Type), "duplicate", m.clk.Since(start))
		}
		m.send(r, sess, protocol.Ack{
			Type:        protocol.FrameAck,
			OperationID: prev.ID,
			Version:     prev.Version,
		})
		return
	}

	if !r.limiter(f.ClientID, m.opts.RateWindow, m.opts.RateMaxOps).allow(now, costOperation) {
		if m.collab != nil {
			m.collab.RecordRateLimitRejection()
			m.collab.RecordOperation(string(op.Type), "rate_limited", m.clk.Since(start))
		}
		m.sendErrorLocked(r, sess, protocol.ErrCodeRateLimited, "operation rate limit exceeded", f.ClientID)
		return
	}

	depth := r.pendingDepth()
	if m.collab != nil {
		m.collab.SetQueueDepth(depth)
	}
	// Advisory only: the op is still applied and broadcast.
	if depth >= m.opts.BackpressureThreshold {
		m.send(r, sess, protocol.Backpressure{
			Type:     protocol.FrameBackpressure,
			RoomID:   r.id,
			ClientID: f.ClientID,
			Message:  fmt.Sprintf("%d frames pending, slow down", depth),
		})
	}

	op.ClientID = f.ClientID
	op.UserID = p.userID
	if op.ID == "" {
		op.ID = m.ids.NewID()
	}

	res, err := r.doc.Apply(op, now)
	if err != nil {
		m.rejectOp(r, sess, op, err, start)
		return
	}
	r.lastActivity = now

	// ACK before broadcast: the submitter retires its pending buffer before
	// it could ever observe the applied version from a peer's perspective.
	m.send(r, sess, protocol.Ack{
		Type:        protocol.FrameAck,
		OperationID: res.Op.ID,
		Version:     res.Version,
	})

	m.broadcastExcept(r, f.ClientID, protocol.OTOpBroadcast{
		Type:           protocol.FrameOTOpBroadcast,
		RoomID:         r.id,
		Operation:      res.Op,
		Version:        res.Version,
		SenderClientID: f.ClientID,
	})

	if m.collab != nil {
		m.collab.RecordOperation(string(res.Op.Type), "applied", m.clk.Since(start))
		if res.Transforms > 0 {
			m.collab.RecordConflictResolved()
		}
	}

	applied := res.Op
	m.enqueuePersist(func(ctx context.Context) {
		if err := m.store.AppendOperation(ctx, r.id, applied); err != nil {
			logger.Warn("operation append failed",
				logger.KeyRoomID, r.id,
				logger.KeyOpID, applied.ID,
				logger.KeyVersion, applied.Version,
				logger.KeyError, err)
		}
	})

	m.maybeSnapshotLocked(r, now)
}

// rejectOp translates an apply failure into a client response. Caller holds
// r.mu.
func (m *Manager) rejectOp(r *room, sess SessionHandle, op ot.Operation, err error, start time.Time) {
	if ot.IsStaleBase(err) {
		if m.collab != nil {
			m.collab.RecordOperation(string(op.Type), "stale_base", m.clk.Since(start))
		}
		m.sendErrorLocked(r, sess, protocol.ErrCodeStaleBase, err.Error(), op.ClientID)
		return
	}

	// Transform failures are impossible given the invariants; if one shows
	// up the document is unchanged (apply is all-or-nothing) but the session
	// cannot be trusted to share our view of history.
	corr := m.ids.NewID()
	logger.Error("operation apply failed",
		logger.KeyRoomID, r.id,
		logger.KeyClientID, op.ClientID,
		logger.KeyOpID, op.ID,
		logger.KeyBaseVersion, op.BaseVersion,
		logger.KeyError, err,
		logger.KeyCorrelationID, corr)
	if m.collab != nil {
		m.collab.RecordOperation(string(op.Type), "error", m.clk.Since(start))
	}
	m.sendErrorLocked(r, sess, protocol.ErrCodeInternal,
		fmt.Sprintf("internal error (correlation id %s)", corr), op.ClientID)
	m.kickLocked(r, op.ClientID, "internal error")
}

// UpdateCursor handles CURSOR_UPDATE: update presence, broadcast to peers,
// and persist the cursor. Cursor updates share the op rate window at a
// reduced cost.
func (m *Manager) UpdateCursor(sess SessionHandle, f protocol.CursorUpdate) {
	r := m.lookup(f.RoomID)
	if r == nil {
		m.sendError(sess, protocol.ErrCodeUnknownRoom, "unknown room", f.RoomID, f.ClientID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[f.ClientID]
	if !ok {
		m.sendErrorLocked(r, sess, protocol.ErrCodeNotJoined, "not joined to this room", f.ClientID)
		return
	}

	now := m.clk.Now()
	if !r.limiter(f.ClientID, m.opts.RateWindow, m.opts.RateMaxOps).allow(now, costCursorUpdate) {
		if m.collab != nil {
			m.collab.RecordRateLimitRejection()
		}
		m.sendErrorLocked(r, sess, protocol.ErrCodeRateLimited, "cursor update rate limit exceeded", f.ClientID)
		return
	}

	cursor := f.Cursor
	p.cursor = &cursor
	r.lastActivity = now

	m.broadcastExcept(r, f.ClientID, protocol.CursorBroadcast{
		Type:     protocol.FrameCursorUpdateBroadcast,
		RoomID:   r.id,
		ClientID: f.ClientID,
		UserID:   p.userID,
		Cursor:   cursor,
	})

	userID := p.userID
	m.enqueuePersist(func(ctx context.Context) {
		if err := m.store.SaveCursor(ctx, r.id, userID, cursor); err != nil {
			logger.Warn("cursor save failed",
				logger.KeyRoomID, r.id,
				logger.KeyUserID, userID,
				logger.KeyError, err)
		}
	})
}

// Sync handles SYNC_STATE. The response carries the current snapshot, which
// alone reproduces the server's content, plus the history tail after
// fromVersion (minus the requester's own ops) so clients holding pending
// local edits can rebase them.
func (m *Manager) Sync(sess SessionHandle, f protocol.SyncState) {
	r := m.lookup(f.RoomID)
	if r == nil {
		m.sendError(sess, protocol.ErrCodeUnknownRoom, "unknown room", f.RoomID, f.ClientID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[f.ClientID]; !ok {
		m.sendErrorLocked(r, sess, protocol.ErrCodeNotJoined, "not joined to this room", f.ClientID)
		return
	}

	m.send(r, sess, protocol.SyncStateResponse{
		Type:         protocol.FrameSyncStateResponse,
		RoomID:       r.id,
		Snapshot:     r.doc.Snapshot(),
		Operations:   r.doc.OperationsSince(f.FromVersion, f.ClientID),
		Participants: r.participantList(),
		CursorStates: r.cursorStates(),
	})
}

// Counts returns the number of live rooms and attached sessions.
func (m *Manager) Counts() (rooms int, sessions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rooms {
		r.mu.Lock()
		sessions += len(r.sessions)
		r.mu.Unlock()
	}
	return len(m.rooms), sessions
}

// ============================================================================
// Room lookup and recovery
// ============================================================================

func (m *Manager) lookup(roomID string) *room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// getOrCreateRoom returns the live room, creating and recovering it from
// persistence on first join.
func (m *Manager) getOrCreateRoom(ctx context.Context, roomID string) (*room, error) {
	if r := m.lookup(roomID); r != nil {
		return r, nil
	}

	// Recover outside the map lock; creation races are settled below.
	doc, cursors, err := m.recoverRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.rooms[roomID]; ok {
		return existing, nil
	}

	r := newRoom(roomID, doc, m.clk.Now())
	r.restoredCursors = cursors
	m.rooms[roomID] = r

	if m.collab != nil {
		m.collab.SetRoomCount(len(m.rooms))
	}
	logger.Info("room created",
		logger.KeyRoomID, roomID,
		logger.KeyVersion, doc.Version())
	return r, nil
}

// recoverRoom rebuilds a document from the latest snapshot plus the
// persisted operation tail, and loads saved cursors. A room with no durable
// state starts empty at version 0.
func (m *Manager) recoverRoom(ctx context.Context, roomID string) (*ot.DocumentState, map[string]protocol.Cursor, error) {
	doc := ot.NewDocument()

	snap, err := m.store.LoadLatestSnapshot(ctx, roomID)
	switch {
	case err == nil:
		doc = ot.RestoreDocument(snap.Version, snap.Content)
	case persist.IsNotFound(err):
		// First life of this room.
	default:
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	tail, err := m.store.LoadOperationsSince(ctx, roomID, doc.Version())
	if err != nil {
		return nil, nil, fmt.Errorf("load operations: %w", err)
	}
	for _, op := range tail {
		// Persisted ops are already transformed; rebase against nothing by
		// pinning the base to the current version.
		op.BaseVersion = doc.Version()
		if _, err := doc.Apply(op, m.clk.Now()); err != nil {
			return nil, nil, fmt.Errorf("replay operation %d: %w", op.Version, err)
		}
	}

	cursors := make(map[string]protocol.Cursor)
	records, err := m.store.LoadCursors(ctx, roomID)
	if err != nil {
		// Presence is best-effort; a failed cursor load does not block the
		// room.
		logger.Warn("cursor load failed", logger.KeyRoomID, roomID, logger.KeyError, err)
	}
	for _, rec := range records {
		cursors[rec.UserID] = rec.Cursor
	}

	return doc, cursors, nil
}

// ============================================================================
// Fan-out
// ============================================================================

// send marshals a frame and enqueues it to one session. On queue overflow
// the session is removed from the room and kicked. Caller holds r.mu.
func (m *Manager) send(r *room, sess SessionHandle, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("frame marshal failed", logger.KeyRoomID, r.id, logger.KeyError, err)
		return
	}
	if !sess.Enqueue(data) {
		m.kickLocked(r, sess.ClientID(), "send queue overflow")
	}
}

// broadcastExcept fans a frame out to every session except one. Sessions
// whose queues overflow are removed and kicked, and their departure is
// announced to the survivors. Caller holds r.mu.
func (m *Manager) broadcastExcept(r *room, exceptClientID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("frame marshal failed", logger.KeyRoomID, r.id, logger.KeyError, err)
		return
	}

	var overflowed []string
	for clientID, sess := range r.sessions {
		if clientID == exceptClientID {
			continue
		}
		if !sess.Enqueue(data) {
			overflowed = append(overflowed, clientID)
		}
	}
	for _, clientID := range overflowed {
		m.kickLocked(r, clientID, "send queue overflow")
	}
}

// kickLocked disconnects an unhealthy session and announces its departure.
// One slow client must not block or corrupt its peers. Caller holds r.mu.
func (m *Manager) kickLocked(r *room, clientID, reason string) {
	sess, ok := r.sessions[clientID]
	if !ok {
		return
	}
	p := r.participants[clientID]

	userID := ""
	if p != nil {
		userID = p.userID
	}

	logger.Warn("kicking session",
		logger.KeyRoomID, r.id,
		logger.KeyClientID, clientID,
		"reason", reason)

	r.remove(clientID, m.clk.Now())
	sess.Kick(reason)

	m.broadcastExcept(r, clientID, protocol.ParticipantEvent{
		Type:         protocol.FrameParticipantLeft,
		RoomID:       r.id,
		ClientID:     clientID,
		UserID:       userID,
		Participants: r.participantList(),
	})
}

// sendErrorLocked sends an ERROR frame to a session attached to r. On queue
// overflow a joined session is removed from the room and kicked, exactly
// like a failed broadcast; a session that never joined is just kicked.
// Caller holds r.mu.
func (m *Manager) sendErrorLocked(r *room, sess SessionHandle, code protocol.ErrorCode, msg, clientID string) {
	frame := protocol.NewErrorFrame(code, msg, r.id, clientID, m.clk.Now())
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("error frame marshal failed", logger.KeyRoomID, r.id, logger.KeyError, err)
		return
	}
	if sess.Enqueue(data) {
		return
	}
	if _, ok := r.sessions[clientID]; ok {
		m.kickLocked(r, clientID, "send queue overflow")
		return
	}
	sess.Kick("send queue overflow")
}

// sendError sends an ERROR frame outside any room bookkeeping.
func (m *Manager) sendError(sess SessionHandle, code protocol.ErrorCode, msg, roomID, clientID string) {
	frame := protocol.NewErrorFrame(code, msg, roomID, clientID, m.clk.Now())
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("error frame marshal failed", logger.KeyError, err)
		return
	}
	if !sess.Enqueue(data) {
		sess.Kick("send queue overflow")
	}
}

// ============================================================================
// Snapshot policy
// ============================================================================

// maybeSnapshotLocked checks the snapshot triggers and hands a snapshot job
// to the background worker. History is truncated only after the snapshot is
// durable. Caller holds r.mu.
func (m *Manager) maybeSnapshotLocked(r *room, now time.Time) {
	if r.snapshotInFlight {
		return
	}

	version := r.doc.Version()
	opsSince := version - r.lastSnapshotVersion
	if opsSince <= 0 {
		return
	}
	if opsSince < m.opts.SnapshotOps && now.Sub(r.lastSnapshotAt) < m.opts.SnapshotInterval {
		return
	}

	r.snapshotInFlight = true
	snap := r.doc.Snapshot()
	_, updatedBy := r.doc.LastModified()

	m.enqueuePersist(func(ctx context.Context) {
		err := m.store.SaveSnapshot(ctx, r.id, persist.Snapshot{
			Version:   snap.Version,
			Content:   snap.Content,
			UpdatedAt: m.clk.Now(),
			UpdatedBy: updatedBy,
		})
		m.finishSnapshot(r, snap.Version, err)
	})
}

// finishSnapshot records the snapshot outcome. On success history up to the
// snapshot version is truncated; on failure it is kept so lagging clients
// can still be served.
func (m *Manager) finishSnapshot(r *room, version int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshotInFlight = false
	if err != nil {
		logger.Warn("snapshot save failed",
			logger.KeyRoomID, r.id,
			logger.KeyVersion, version,
			logger.KeyError, err)
		return
	}

	r.lastSnapshotVersion = version
	r.lastSnapshotAt = m.clk.Now()
	if err := r.doc.TruncateHistoryBefore(version); err != nil {
		logger.Error("history truncation failed",
			logger.KeyRoomID, r.id,
			logger.KeyVersion, version,
			logger.KeyError, err)
		return
	}

	logger.Debug("snapshot taken",
		logger.KeyRoomID, r.id,
		logger.KeyVersion, version)
}

// ============================================================================
// Background work
// ============================================================================

// enqueuePersist hands a job to the background worker. Jobs are dropped with
// a warning when the queue is full; persistence is best-effort and must
// never block the apply path.
func (m *Manager) enqueuePersist(job func(ctx context.Context)) {
	select {
	case m.persistCh <- job:
	default:
		logger.Warn("persistence queue full, dropping write")
	}
}

func (m *Manager) persistWorker() {
	defer m.wg.Done()

	for {
		select {
		case job := <-m.persistCh:
			m.runPersistJob(job)
		case <-m.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-m.persistCh:
					m.runPersistJob(job)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) runPersistJob(job func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	job(ctx)
}

// reaperLoop periodically evicts rooms that have been empty past the TTL,
// flushing a final snapshot first.
func (m *Manager) reaperLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdleRooms()
		case <-m.done:
			return
		}
	}
}

// reapIdleRooms scans for expired empty rooms and releases them.
func (m *Manager) reapIdleRooms() {
	now := m.clk.Now()

	m.mu.Lock()
	var expired []*room
	for id, r := range m.rooms {
		r.mu.Lock()
		if r.empty() && now.Sub(r.lastActivity) > m.opts.RoomTTL {
			r.closed = true
			expired = append(expired, r)
			delete(m.rooms, id)
		}
		r.mu.Unlock()
	}
	remaining := len(m.rooms)
	m.mu.Unlock()

	if m.collab != nil && len(expired) > 0 {
		m.collab.SetRoomCount(remaining)
	}

	for _, r := range expired {
		m.flushRoom(r)
		logger.Info("room reaped", logger.KeyRoomID, r.id)
	}
}

// flushRoom writes a final snapshot for a room whose history advanced past
// the last durable snapshot. Runs off the hot path (reaper or shutdown).
func (m *Manager) flushRoom(r *room) {
	r.mu.Lock()
	version := r.doc.Version()
	dirty := version > r.lastSnapshotVersion
	snap := r.doc.Snapshot()
	_, updatedBy := r.doc.LastModified()
	r.mu.Unlock()

	if !dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := m.store.SaveSnapshot(ctx, r.id, persist.Snapshot{
		Version:   snap.Version,
		Content:   snap.Content,
		UpdatedAt: m.clk.Now(),
		UpdatedBy: updatedBy,
	})
	if err != nil {
		logger.Warn("final snapshot failed",
			logger.KeyRoomID, r.id,
			logger.KeyVersion, snap.Version,
			logger.KeyError, err)
	}
}

// Close stops the reaper and persistence worker, then flushes a final
// snapshot for every dirty room. Sessions are expected to be closed by the
// transport layer before or during this call.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		rooms := make([]*room, 0, len(m.rooms))
		for _, r := range m.rooms {
			rooms = append(rooms, r)
		}
		m.rooms = make(map[string]*room)
		m.mu.Unlock()

		for _, r := range rooms {
			m.flushRoom(r)
		}
	})
}
