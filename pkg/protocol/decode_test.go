package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedojo/codedojo/pkg/ot"
)

func newTestValidator() *Validator {
	return NewValidator(Limits{})
}

func TestDecodeJoinRoom(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "JOIN_ROOM",
		"roomId": "room-1",
		"userId": "alice",
		"clientId": "c-1",
		"userInfo": {"color": "teal"}
	}`))
	require.Nil(t, verr)

	join, ok := in.(JoinRoom)
	require.True(t, ok)
	assert.Equal(t, "room-1", join.RoomID)
	assert.Equal(t, "alice", join.UserID)
	assert.Equal(t, "c-1", join.ClientID)
	assert.Equal(t, "teal", join.UserInfo["color"])
	assert.Equal(t, FrameJoinRoom, join.FrameType())
}

func TestDecodeOTOp(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "OT_OP",
		"roomId": "room-1",
		"clientId": "c-1",
		"operation": {"id": "op-9", "type": "insert", "position": 4, "content": "hi", "baseVersion": 7}
	}`))
	require.Nil(t, verr)

	op, ok := in.(OTOp)
	require.True(t, ok)
	assert.Equal(t, ot.OpInsert, op.Op.Type)
	assert.Equal(t, 4, op.Op.Position)
	assert.Equal(t, "hi", op.Op.Content)
	assert.Equal(t, 7, op.Op.BaseVersion)
	assert.Equal(t, "c-1", op.Op.ClientID, "operation clientId comes from the frame")
}

func TestDecodeOTOpWithoutID(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "OT_OP",
		"roomId": "r", "clientId": "c",
		"operation": {"type": "delete", "position": 0, "content": "x", "baseVersion": 0}
	}`))
	require.Nil(t, verr, "operation id is optional")
	assert.Empty(t, in.(OTOp).Op.ID)
}

func TestDecodeCursorUpdate(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "CURSOR_UPDATE",
		"roomId": "r", "clientId": "c",
		"cursor": {"line": 0, "column": 0}
	}`))
	require.Nil(t, verr, "zero line/column are valid")
	assert.Equal(t, Cursor{}, in.(CursorUpdate).Cursor)
}

func TestDecodeSyncState(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "SYNC_STATE", "roomId": "r", "clientId": "c", "fromVersion": 10
	}`))
	require.Nil(t, verr)
	assert.Equal(t, 10, in.(SyncState).FromVersion)
}

func TestDecodeClientAck(t *testing.T) {
	v := newTestValidator()

	in, verr := v.Decode([]byte(`{
		"type": "ACK", "roomId": "r", "clientId": "c", "operationId": "op-1"
	}`))
	require.Nil(t, verr)
	assert.Equal(t, "op-1", in.(ClientAck).OperationID)
}

func TestDecodeRejections(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		frame     string
		wantField string
	}{
		{"malformed json", `{"type":`, ""},
		{"missing type", `{"roomId": "r"}`, "type"},
		{"unknown type", `{"type": "TELEPORT"}`, "type"},
		{"join missing roomId", `{"type": "JOIN_ROOM", "userId": "u", "clientId": "c"}`, "roomId"},
		{"join empty userId", `{"type": "JOIN_ROOM", "roomId": "r", "userId": "", "clientId": "c"}`, "userId"},
		{"leave missing clientId", `{"type": "LEAVE_ROOM", "roomId": "r"}`, "clientId"},
		{"op missing operation", `{"type": "OT_OP", "roomId": "r", "clientId": "c"}`, "operation"},
		{"op bad type", `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "replace", "position": 0, "content": "x", "baseVersion": 0}}`, "operation.type"},
		{"op negative position", `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "position": -1, "content": "x", "baseVersion": 0}}`, "operation.position"},
		{"op missing position", `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "content": "x", "baseVersion": 0}}`, "operation.position"},
		{"op missing baseVersion", `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "position": 0, "content": "x"}}`, "operation.baseVersion"},
		{"op negative baseVersion", `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "position": 0, "content": "x", "baseVersion": -2}}`, "operation.baseVersion"},
		{"cursor missing", `{"type": "CURSOR_UPDATE", "roomId": "r", "clientId": "c"}`, "cursor"},
		{"cursor negative line", `{"type": "CURSOR_UPDATE", "roomId": "r", "clientId": "c",
			"cursor": {"line": -1, "column": 0}}`, "cursor"},
		{"sync missing fromVersion", `{"type": "SYNC_STATE", "roomId": "r", "clientId": "c"}`, "fromVersion"},
		{"sync negative fromVersion", `{"type": "SYNC_STATE", "roomId": "r", "clientId": "c", "fromVersion": -1}`, "fromVersion"},
		{"ack missing operationId", `{"type": "ACK", "roomId": "r", "clientId": "c"}`, "operationId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, verr := v.Decode([]byte(tt.frame))
			require.NotNil(t, verr)
			assert.Nil(t, in)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.NotEmpty(t, verr.Error())
		})
	}
}

func TestDecodeLimits(t *testing.T) {
	v := NewValidator(Limits{MaxIDLength: 8, MaxContentLength: 4})

	t.Run("id too long", func(t *testing.T) {
		frame := `{"type": "JOIN_ROOM", "roomId": "` + strings.Repeat("r", 9) + `", "userId": "u", "clientId": "c"}`
		_, verr := v.Decode([]byte(frame))
		require.NotNil(t, verr)
		assert.Equal(t, "roomId", verr.Field)
	})

	t.Run("content too long", func(t *testing.T) {
		frame := `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "position": 0, "content": "abcde", "baseVersion": 0}}`
		_, verr := v.Decode([]byte(frame))
		require.NotNil(t, verr)
		assert.Equal(t, "operation.content", verr.Field)
	})

	t.Run("content length measured in runes", func(t *testing.T) {
		frame := `{"type": "OT_OP", "roomId": "r", "clientId": "c",
			"operation": {"type": "insert", "position": 0, "content": "日本語は", "baseVersion": 0}}`
		_, verr := v.Decode([]byte(frame))
		assert.Nil(t, verr, "four runes fit a four-rune limit even at twelve bytes")
	})
}

func TestErrorFrameEncoding(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := NewErrorFrame(ErrCodeRateLimited, "slow down", "room-1", "c-1", now)

	data, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ERROR", decoded["type"])
	assert.Equal(t, "rate_limited", decoded["code"])
	assert.Equal(t, "room-1", decoded["roomId"])
}

func TestOTOpBroadcastEncoding(t *testing.T) {
	b := OTOpBroadcast{
		Type:   FrameOTOpBroadcast,
		RoomID: "room-1",
		Operation: ot.Operation{
			ID: "op-1", Type: ot.OpInsert, Position: 2, Content: "hi",
			BaseVersion: 1, ClientID: "c-1", Version: 2,
		},
		Version:        2,
		SenderClientID: "c-1",
	}

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "OT_OP_BROADCAST", decoded["type"])
	op := decoded["operation"].(map[string]any)
	assert.Equal(t, "insert", op["type"])
	assert.Equal(t, float64(2), op["version"])
}
