// Package protocol defines the frame-oriented wire protocol between
// collaboration clients and the server: the closed set of frame types, the
// reference JSON encoding, inbound frame validation, and the error codes
// surfaced to clients.
//
// Inbound frames decode into a tagged sum (the Inbound interface); outbound
// frames are plain structs marshaled with encoding/json. The transport only
// moves opaque byte slices.
package protocol

import (
	"time"

	"github.com/codedojo/codedojo/pkg/ot"
)

// FrameType tags every frame on the wire.
type FrameType string

const (
	// Client to server.
	FrameJoinRoom     FrameType = "JOIN_ROOM"
	FrameLeaveRoom    FrameType = "LEAVE_ROOM"
	FrameOTOp         FrameType = "OT_OP"
	FrameCursorUpdate FrameType = "CURSOR_UPDATE"
	FrameSyncState    FrameType = "SYNC_STATE"
	FrameClientAck    FrameType = "ACK"

	// Server to client.
	FrameJoinRoomAck             FrameType = "JOIN_ROOM_ACK"
	FrameLeaveRoomAck            FrameType = "LEAVE_ROOM_ACK"
	FrameParticipantJoined       FrameType = "PARTICIPANT_JOINED"
	FrameParticipantLeft         FrameType = "PARTICIPANT_LEFT"
	FrameAck                     FrameType = "ACK"
	FrameOTOpBroadcast           FrameType = "OT_OP_BROADCAST"
	FrameCursorUpdateBroadcast   FrameType = "CURSOR_UPDATE_BROADCAST"
	FrameSyncStateResponse       FrameType = "SYNC_STATE_RESPONSE"
	FrameBackpressure            FrameType = "BACKPRESSURE"
	FrameError                   FrameType = "ERROR"
)

// Cursor is a client caret position.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Participant describes one room member as sent to clients.
type Participant struct {
	ClientID string         `json:"clientId"`
	UserID   string         `json:"userId"`
	JoinedAt time.Time      `json:"joinedAt"`
	Cursor   *Cursor        `json:"cursor,omitempty"`
	UserInfo map[string]any `json:"userInfo,omitempty"`
}

// CursorState pairs a user with their last known cursor, for state syncs.
type CursorState struct {
	UserID string `json:"userId"`
	Cursor Cursor `json:"cursor"`
}

// ============================================================================
// Inbound frames (client to server), produced by Validator.Decode
// ============================================================================

// Inbound is the tagged sum over the client-to-server frame types.
type Inbound interface {
	FrameType() FrameType
}

// JoinRoom asks to join (and lazily create) a room.
type JoinRoom struct {
	RoomID   string
	UserID   string
	ClientID string
	UserInfo map[string]any
}

// LeaveRoom leaves the current room.
type LeaveRoom struct {
	RoomID   string
	ClientID string
}

// OTOp submits a document operation.
type OTOp struct {
	RoomID   string
	ClientID string
	Op       ot.Operation
}

// CursorUpdate reports the client's caret position.
type CursorUpdate struct {
	RoomID   string
	ClientID string
	Cursor   Cursor
}

// SyncState requests a snapshot plus the history tail after fromVersion.
type SyncState struct {
	RoomID      string
	ClientID    string
	FromVersion int
}

// ClientAck is an optional client-side delivery hint; the server accepts and
// ignores it.
type ClientAck struct {
	RoomID      string
	ClientID    string
	OperationID string
}

func (JoinRoom) FrameType() FrameType     { return FrameJoinRoom }
func (LeaveRoom) FrameType() FrameType    { return FrameLeaveRoom }
func (OTOp) FrameType() FrameType         { return FrameOTOp }
func (CursorUpdate) FrameType() FrameType { return FrameCursorUpdate }
func (SyncState) FrameType() FrameType    { return FrameSyncState }
func (ClientAck) FrameType() FrameType    { return FrameClientAck }

// ============================================================================
// Outbound frames (server to client)
// ============================================================================

// JoinRoomAck confirms a join and carries the full document state.
type JoinRoomAck struct {
	Type         FrameType     `json:"type"`
	RoomID       string        `json:"roomId"`
	ClientID     string        `json:"clientId"`
	Version      int           `json:"version"`
	Content      string        `json:"content"`
	Participants []Participant `json:"participants"`
}

// LeaveRoomAck confirms a leave.
type LeaveRoomAck struct {
	Type     FrameType `json:"type"`
	RoomID   string    `json:"roomId"`
	ClientID string    `json:"clientId"`
}

// ParticipantEvent announces a join or leave to room peers. Type is either
// FrameParticipantJoined or FrameParticipantLeft.
type ParticipantEvent struct {
	Type         FrameType     `json:"type"`
	RoomID       string        `json:"roomId"`
	ClientID     string        `json:"clientId"`
	UserID       string        `json:"userId"`
	Participants []Participant `json:"participants"`
}

// Ack confirms an applied operation to its submitter. Sent before the
// corresponding broadcast goes out to peers.
type Ack struct {
	Type        FrameType `json:"type"`
	OperationID string    `json:"operationId"`
	Version     int       `json:"version"`
}

// OTOpBroadcast fans an applied operation out to room peers.
type OTOpBroadcast struct {
	Type           FrameType    `json:"type"`
	RoomID         string       `json:"roomId"`
	Operation      ot.Operation `json:"operation"`
	Version        int          `json:"version"`
	SenderClientID string       `json:"senderClientId"`
}

// CursorBroadcast fans a cursor update out to room peers.
type CursorBroadcast struct {
	Type     FrameType `json:"type"`
	RoomID   string    `json:"roomId"`
	ClientID string    `json:"clientId"`
	UserID   string    `json:"userId"`
	Cursor   Cursor    `json:"cursor"`
}

// SyncStateResponse answers a SYNC_STATE request.
type SyncStateResponse struct {
	Type         FrameType      `json:"type"`
	RoomID       string         `json:"roomId"`
	Snapshot     ot.Snapshot    `json:"snapshot"`
	Operations   []ot.Operation `json:"operations"`
	Participants []Participant  `json:"participants"`
	CursorStates []CursorState  `json:"cursorStates"`
}

// Backpressure advises the submitter to throttle. The triggering operation
// was still applied and broadcast.
type Backpressure struct {
	Type     FrameType `json:"type"`
	RoomID   string    `json:"roomId"`
	ClientID string    `json:"clientId"`
	Message  string    `json:"message"`
}

// ErrorFrame reports a protocol, client-state, or internal error.
type ErrorFrame struct {
	Type      FrameType `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RoomID    string    `json:"roomId,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorFrame builds an ErrorFrame stamped with the given time.
func NewErrorFrame(code ErrorCode, message, roomID, clientID string, now time.Time) ErrorFrame {
	return ErrorFrame{
		Type:      FrameError,
		Code:      code,
		Message:   message,
		RoomID:    roomID,
		ClientID:  clientID,
		Timestamp: now,
	}
}
