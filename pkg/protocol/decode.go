package protocol

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/codedojo/codedojo/pkg/ot"
)

// Limits bound inbound frame fields. Zero values fall back to the defaults
// below.
type Limits struct {
	MaxIDLength      int // roomId, userId, clientId, operation ids
	MaxContentLength int // operation content, in runes
}

const (
	defaultMaxIDLength      = 100
	defaultMaxContentLength = 10000
)

// Validator decodes and validates inbound frames. It is stateless and safe
// for concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator returns a Validator with the given limits.
func NewValidator(limits Limits) *Validator {
	if limits.MaxIDLength <= 0 {
		limits.MaxIDLength = defaultMaxIDLength
	}
	if limits.MaxContentLength <= 0 {
		limits.MaxContentLength = defaultMaxContentLength
	}
	return &Validator{limits: limits}
}

// envelope is the superset of all inbound frame fields. Pointer fields
// distinguish absent from zero-valued.
type envelope struct {
	Type        string         `json:"type"`
	RoomID      *string        `json:"roomId"`
	UserID      *string        `json:"userId"`
	ClientID    *string        `json:"clientId"`
	UserInfo    map[string]any `json:"userInfo"`
	Operation   *wireOperation `json:"operation"`
	Cursor      *wireCursor    `json:"cursor"`
	FromVersion *int           `json:"fromVersion"`
	OperationID *string        `json:"operationId"`
}

type wireOperation struct {
	ID          string  `json:"id"`
	Type        *string `json:"type"`
	Position    *int    `json:"position"`
	Content     *string `json:"content"`
	BaseVersion *int    `json:"baseVersion"`
}

type wireCursor struct {
	Line   *int `json:"line"`
	Column *int `json:"column"`
}

// Decode parses a raw frame and returns its validated typed payload, or a
// ValidationError describing the first problem found.
func (v *Validator) Decode(data []byte) (Inbound, *ValidationError) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalidf("", "malformed frame: %v", err)
	}

	switch FrameType(env.Type) {
	case FrameJoinRoom:
		return v.decodeJoinRoom(&env)
	case FrameLeaveRoom:
		return v.decodeLeaveRoom(&env)
	case FrameOTOp:
		return v.decodeOTOp(&env)
	case FrameCursorUpdate:
		return v.decodeCursorUpdate(&env)
	case FrameSyncState:
		return v.decodeSyncState(&env)
	case FrameClientAck:
		return v.decodeClientAck(&env)
	case "":
		return nil, invalidf("type", "missing frame type")
	default:
		return nil, invalidf("type", "unknown frame type %q", env.Type)
	}
}

// requireID checks presence and length of an identifier field.
func (v *Validator) requireID(field string, value *string) (string, *ValidationError) {
	if value == nil || *value == "" {
		return "", invalidf(field, "required")
	}
	if utf8.RuneCountInString(*value) > v.limits.MaxIDLength {
		return "", invalidf(field, "exceeds %d characters", v.limits.MaxIDLength)
	}
	return *value, nil
}

func (v *Validator) decodeJoinRoom(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	userID, verr := v.requireID("userId", env.UserID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}
	return JoinRoom{RoomID: roomID, UserID: userID, ClientID: clientID, UserInfo: env.UserInfo}, nil
}

func (v *Validator) decodeLeaveRoom(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}
	return LeaveRoom{RoomID: roomID, ClientID: clientID}, nil
}

func (v *Validator) decodeOTOp(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}

	w := env.Operation
	if w == nil {
		return nil, invalidf("operation", "required")
	}
	if w.Type == nil {
		return nil, invalidf("operation.type", "required")
	}
	opType := ot.OpType(*w.Type)
	if opType != ot.OpInsert && opType != ot.OpDelete {
		return nil, invalidf("operation.type", "must be insert or delete")
	}
	if w.Position == nil {
		return nil, invalidf("operation.position", "required")
	}
	if *w.Position < 0 {
		return nil, invalidf("operation.position", "must be non-negative")
	}
	if w.Content == nil {
		return nil, invalidf("operation.content", "required")
	}
	if utf8.RuneCountInString(*w.Content) > v.limits.MaxContentLength {
		return nil, invalidf("operation.content", "exceeds %d characters", v.limits.MaxContentLength)
	}
	if w.BaseVersion == nil {
		return nil, invalidf("operation.baseVersion", "required")
	}
	if *w.BaseVersion < 0 {
		return nil, invalidf("operation.baseVersion", "must be non-negative")
	}
	// Operation ID is optional; the server assigns one when absent.
	if utf8.RuneCountInString(w.ID) > v.limits.MaxIDLength {
		return nil, invalidf("operation.id", "exceeds %d characters", v.limits.MaxIDLength)
	}

	return OTOp{
		RoomID:   roomID,
		ClientID: clientID,
		Op: ot.Operation{
			ID:          w.ID,
			Type:        opType,
			Position:    *w.Position,
			Content:     *w.Content,
			BaseVersion: *w.BaseVersion,
			ClientID:    clientID,
		},
	}, nil
}

func (v *Validator) decodeCursorUpdate(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}

	c := env.Cursor
	if c == nil {
		return nil, invalidf("cursor", "required")
	}
	if c.Line == nil || c.Column == nil {
		return nil, invalidf("cursor", "line and column required")
	}
	if *c.Line < 0 || *c.Column < 0 {
		return nil, invalidf("cursor", "line and column must be non-negative")
	}

	return CursorUpdate{
		RoomID:   roomID,
		ClientID: clientID,
		Cursor:   Cursor{Line: *c.Line, Column: *c.Column},
	}, nil
}

func (v *Validator) decodeSyncState(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}
	if env.FromVersion == nil {
		return nil, invalidf("fromVersion", "required")
	}
	if *env.FromVersion < 0 {
		return nil, invalidf("fromVersion", "must be non-negative")
	}
	return SyncState{RoomID: roomID, ClientID: clientID, FromVersion: *env.FromVersion}, nil
}

func (v *Validator) decodeClientAck(env *envelope) (Inbound, *ValidationError) {
	roomID, verr := v.requireID("roomId", env.RoomID)
	if verr != nil {
		return nil, verr
	}
	clientID, verr := v.requireID("clientId", env.ClientID)
	if verr != nil {
		return nil, verr
	}
	opID, verr := v.requireID("operationId", env.OperationID)
	if verr != nil {
		return nil, verr
	}
	return ClientAck{RoomID: roomID, ClientID: clientID, OperationID: opID}, nil
}
