package ws

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedojo/codedojo/pkg/clock"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/persist/memory"
	"github.com/codedojo/codedojo/pkg/protocol"
	"github.com/codedojo/codedojo/pkg/room"
)

const readWait = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWithOptions(t, DefaultOptions())
}

func newTestServerWithOptions(t *testing.T, opts Options) *httptest.Server {
	t.Helper()

	store := memory.New(persist.DefaultTTLs())
	manager := room.NewManager(room.DefaultOptions(), store, clock.System(), clock.NewSequential("srv"), nil)
	t.Cleanup(manager.Close)

	adapter := NewAdapter(opts, manager, protocol.NewValidator(protocol.Limits{}),
		clock.System(), clock.NewSequential("sess"), nil)

	server := httptest.NewServer(adapter)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func join(t *testing.T, conn *websocket.Conn, roomID, userID, clientID string) map[string]any {
	t.Helper()
	sendJSON(t, conn, fmt.Sprintf(
		`{"type":"JOIN_ROOM","roomId":%q,"userId":%q,"clientId":%q}`, roomID, userID, clientID))
	ack := readFrame(t, conn)
	require.Equal(t, "JOIN_ROOM_ACK", ack["type"])
	return ack
}

func TestJoinAckCarriesDocument(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	ack := join(t, conn, "room-1", "alice", "c1")
	assert.Equal(t, float64(0), ack["version"])
	assert.Equal(t, "", ack["content"])
}

func TestOperationAckAndBroadcast(t *testing.T) {
	server := newTestServer(t)
	c1 := dial(t, server)
	c2 := dial(t, server)

	join(t, c1, "room-1", "alice", "c1")
	join(t, c2, "room-1", "bob", "c2")

	// c1 hears about c2's arrival.
	joined := readFrame(t, c1)
	require.Equal(t, "PARTICIPANT_JOINED", joined["type"])
	assert.Equal(t, "c2", joined["clientId"])

	sendJSON(t, c1, `{"type":"OT_OP","roomId":"room-1","clientId":"c1",
		"operation":{"id":"op-1","type":"insert","position":0,"content":"Hello","baseVersion":0}}`)

	ack := readFrame(t, c1)
	require.Equal(t, "ACK", ack["type"])
	assert.Equal(t, "op-1", ack["operationId"])
	assert.Equal(t, float64(1), ack["version"])

	bcast := readFrame(t, c2)
	require.Equal(t, "OT_OP_BROADCAST", bcast["type"])
	assert.Equal(t, "c1", bcast["senderClientId"])
	op := bcast["operation"].(map[string]any)
	assert.Equal(t, "Hello", op["content"])
}

func TestFrameBeforeJoinRejected(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	sendJSON(t, conn, `{"type":"OT_OP","roomId":"room-1","clientId":"c1",
		"operation":{"id":"op-1","type":"insert","position":0,"content":"x","baseVersion":0}}`)

	errFrame := readFrame(t, conn)
	require.Equal(t, "ERROR", errFrame["type"])
	assert.Equal(t, "not_joined", errFrame["code"])
}

func TestSecondJoinRejected(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	join(t, conn, "room-1", "alice", "c1")
	sendJSON(t, conn, `{"type":"JOIN_ROOM","roomId":"room-2","userId":"alice","clientId":"c1"}`)

	errFrame := readFrame(t, conn)
	require.Equal(t, "ERROR", errFrame["type"])
	assert.Equal(t, "already_joined", errFrame["code"])
}

func TestMalformedFrameKeepsSessionOpen(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	sendJSON(t, conn, `{not json`)
	errFrame := readFrame(t, conn)
	require.Equal(t, "ERROR", errFrame["type"])
	assert.Equal(t, "validation_error", errFrame["code"])

	// The session survived the bad frame.
	join(t, conn, "room-1", "alice", "c1")
}

func TestClientIDMustMatchSession(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	join(t, conn, "room-1", "alice", "c1")
	sendJSON(t, conn, `{"type":"CURSOR_UPDATE","roomId":"room-1","clientId":"someone-else",
		"cursor":{"line":1,"column":2}}`)

	errFrame := readFrame(t, conn)
	require.Equal(t, "ERROR", errFrame["type"])
	assert.Equal(t, "validation_error", errFrame["code"])
}

func TestLeaveAcksThenCloses(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	join(t, conn, "room-1", "alice", "c1")
	sendJSON(t, conn, `{"type":"LEAVE_ROOM","roomId":"room-1","clientId":"c1"}`)

	ack := readFrame(t, conn)
	require.Equal(t, "LEAVE_ROOM_ACK", ack["type"])

	// The server closes the connection after the ack drains.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	server := newTestServer(t)
	c1 := dial(t, server)
	c2 := dial(t, server)

	join(t, c1, "room-1", "alice", "c1")
	join(t, c2, "room-1", "bob", "c2")
	readFrame(t, c1) // PARTICIPANT_JOINED for c2

	require.NoError(t, c2.Close())

	left := readFrame(t, c1)
	require.Equal(t, "PARTICIPANT_LEFT", left["type"])
	assert.Equal(t, "c2", left["clientId"])
	assert.Equal(t, "bob", left["userId"])
}

// A peer that answers neither frames nor pings is closed once the read
// deadline lapses. Pings go out at half the idle timeout, so the peer had
// two chances to answer before the close.
func TestSilentPeerClosedAfterMissedPings(t *testing.T) {
	opts := DefaultOptions()
	opts.IdleTimeout = 400 * time.Millisecond
	server := newTestServerWithOptions(t, opts)
	conn := dial(t, server)
	join(t, conn, "room-1", "alice", "c1")

	// Swallow pings instead of answering them with pongs.
	pings := 0
	conn.SetPingHandler(func(string) error {
		pings++
		return nil
	})

	start := time.Now()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server closes the unresponsive connection")
	assert.GreaterOrEqual(t, time.Since(start), opts.IdleTimeout/2, "the peer was pinged before the close")
	assert.GreaterOrEqual(t, pings, 1)
}

func TestSyncStateRoundTrip(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	join(t, conn, "room-1", "alice", "c1")
	sendJSON(t, conn, `{"type":"OT_OP","roomId":"room-1","clientId":"c1",
		"operation":{"id":"op-1","type":"insert","position":0,"content":"Hi","baseVersion":0}}`)
	readFrame(t, conn) // ACK

	sendJSON(t, conn, `{"type":"SYNC_STATE","roomId":"room-1","clientId":"c1","fromVersion":0}`)
	resp := readFrame(t, conn)
	require.Equal(t, "SYNC_STATE_RESPONSE", resp["type"])

	snap := resp["snapshot"].(map[string]any)
	assert.Equal(t, float64(1), snap["version"])
	assert.Equal(t, "Hi", snap["content"])
}
