package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedojo/codedojo/internal/logger"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// sessionState is the per-connection lifecycle.
type sessionState int

const (
	stateNew sessionState = iota
	stateInRoom
	stateClosing
	stateClosed
)

// Session is one live client connection. It implements room.SessionHandle.
//
// The read loop owns state transitions; the write pump owns the network
// writes. Enqueue and Kick may be called from any goroutine holding a room
// lock, so they only touch the channel and flags under s.mu.
type Session struct {
	adapter *Adapter
	conn    *websocket.Conn
	id      string

	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	state       sessionState
	roomID      string
	clientID    string
	userID      string
	closeReason string
}

func newSession(a *Adapter, conn *websocket.Conn) *Session {
	return &Session{
		adapter: a,
		conn:    conn,
		id:      a.ids.NewID(),
		send:    make(chan []byte, a.opts.SendQueueCap),
		done:    make(chan struct{}),
	}
}

// ============================================================================
// room.SessionHandle
// ============================================================================

// ClientID returns the identity registered at join time.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// UserID returns the user behind the connection.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Enqueue appends a frame to the outbound queue without blocking.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// QueueDepth returns the number of unsent outbound frames.
func (s *Session) QueueDepth() int {
	return len(s.send)
}

// Kick asks the session to shut down. Queued frames (including a final
// ERROR, if any) are drained by the write pump before the transport closes.
func (s *Session) Kick(reason string) {
	s.mu.Lock()
	if s.state == stateClosed || s.state == stateClosing {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	s.closeReason = reason
	s.mu.Unlock()

	close(s.done)
}

// ============================================================================
// Read loop
// ============================================================================

// readLoop consumes inbound frames until the connection dies, then cleans up
// room membership.
func (s *Session) readLoop() {
	defer s.teardown()

	s.conn.SetReadLimit(s.adapter.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.adapter.opts.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.adapter.opts.IdleTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("session read failed",
					logger.KeySession, s.id,
					logger.KeyError, err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.adapter.opts.IdleTimeout))

		if closing := s.handleFrame(data); closing {
			return
		}
	}
}

// handleFrame validates and dispatches one inbound frame. It reports whether
// the session should close.
func (s *Session) handleFrame(data []byte) bool {
	frame, verr := s.adapter.validator.Decode(data)
	if verr != nil {
		s.recordFrame("invalid", "in")
		s.sendError(protocol.ErrCodeValidation, verr.Error(), "", "")
		return false
	}
	s.recordFrame(string(frame.FrameType()), "in")

	s.mu.Lock()
	state := s.state
	roomID := s.roomID
	clientID := s.clientID
	s.mu.Unlock()

	switch f := frame.(type) {
	case protocol.JoinRoom:
		if state == stateInRoom {
			s.sendError(protocol.ErrCodeAlreadyJoined, "already joined a room", roomID, clientID)
			return false
		}
		if s.adapter.manager.Join(context.Background(), s, f) {
			s.mu.Lock()
			s.state = stateInRoom
			s.roomID = f.RoomID
			s.clientID = f.ClientID
			s.userID = f.UserID
			s.mu.Unlock()
		}
		return false

	case protocol.LeaveRoom:
		if state != stateInRoom {
			s.sendError(protocol.ErrCodeNotJoined, "join a room first", f.RoomID, f.ClientID)
			return false
		}
		s.adapter.manager.Leave(s, f)
		// The leave ack is queued; drain and close.
		s.beginClose("left room")
		return true

	case protocol.OTOp:
		if !s.requireJoined(state, f.RoomID, f.ClientID, clientID) {
			return false
		}
		s.adapter.manager.SubmitOp(s, f)
		return false

	case protocol.CursorUpdate:
		if !s.requireJoined(state, f.RoomID, f.ClientID, clientID) {
			return false
		}
		s.adapter.manager.UpdateCursor(s, f)
		return false

	case protocol.SyncState:
		if !s.requireJoined(state, f.RoomID, f.ClientID, clientID) {
			return false
		}
		s.adapter.manager.Sync(s, f)
		return false

	case protocol.ClientAck:
		// Optional delivery hint; accepted and ignored.
		return false

	default:
		s.sendError(protocol.ErrCodeValidation, "unsupported frame", "", "")
		return false
	}
}

// requireJoined enforces the state machine for room-scoped frames: the
// session must be in a room and the frame must carry the identity it joined
// with.
func (s *Session) requireJoined(state sessionState, roomID, frameClientID, sessionClientID string) bool {
	if state != stateInRoom {
		s.sendError(protocol.ErrCodeNotJoined, "join a room first", roomID, frameClientID)
		return false
	}
	if frameClientID != sessionClientID {
		s.sendError(protocol.ErrCodeValidation, "clientId does not match this session", roomID, frameClientID)
		return false
	}
	return true
}

// beginClose moves the session to Closing; the write pump drains the queue
// and closes the transport.
func (s *Session) beginClose(reason string) {
	s.mu.Lock()
	if s.state == stateClosing || s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	s.closeReason = reason
	s.mu.Unlock()

	close(s.done)
}

// teardown runs once the read loop exits: detach from the room, stop the
// write pump, close the transport.
func (s *Session) teardown() {
	s.mu.Lock()
	// Kick moves the state to Closing before the read loop exits, so room
	// membership is keyed on the joined identity rather than the state.
	// Disconnect is idempotent for sessions the manager already removed.
	wasInRoom := s.roomID != ""
	roomID := s.roomID
	clientID := s.clientID
	reason := s.closeReason
	alreadyClosing := s.state == stateClosing
	s.state = stateClosed
	s.mu.Unlock()

	if wasInRoom {
		s.adapter.manager.Disconnect(roomID, clientID)
	}
	if !alreadyClosing {
		close(s.done)
	}

	_ = s.conn.Close()

	if reason == "" {
		reason = "client"
	}
	if s.adapter.session != nil {
		s.adapter.session.RecordSessionClosed(reason)
	}
	logger.Debug("session closed",
		logger.KeySession, s.id,
		logger.KeyClientID, clientID,
		"reason", reason)
}

// ============================================================================
// Write pump
// ============================================================================

// writePump drains the outbound queue to the transport and keeps the
// connection alive with pings. It is the only goroutine that writes.
func (s *Session) writePump() {
	// Half the read deadline: a peer gets two pings to answer before the
	// deadline lapses.
	pingPeriod := s.adapter.opts.IdleTimeout / 2
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.writeFrame(frame) {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.adapter.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			// Drain whatever is already queued, then say goodbye.
			for {
				select {
				case frame := <-s.send:
					if !s.writeFrame(frame) {
						return
					}
				default:
					_ = s.conn.SetWriteDeadline(time.Now().Add(s.adapter.opts.WriteTimeout))
					_ = s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.adapter.opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false
	}
	s.recordFrame(s.frameTypeOf(frame), "out")
	return true
}

// frameTypeOf extracts the type tag from an encoded outbound frame for
// metrics. Unparseable frames are counted as unknown.
func (s *Session) frameTypeOf(frame []byte) string {
	if s.adapter.session == nil {
		return ""
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &tag); err != nil || tag.Type == "" {
		return "unknown"
	}
	return tag.Type
}

func (s *Session) recordFrame(frameType, direction string) {
	if s.adapter.session != nil {
		s.adapter.session.RecordFrame(frameType, direction)
	}
}

// sendError queues an ERROR frame to this session.
func (s *Session) sendError(code protocol.ErrorCode, msg, roomID, clientID string) {
	frame := protocol.NewErrorFrame(code, msg, roomID, clientID, s.adapter.clk.Now())
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if !s.Enqueue(data) {
		s.Kick("send queue overflow")
	}
}
