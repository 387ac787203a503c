// Package ws is the WebSocket transport adapter: it upgrades HTTP requests,
// owns one Session per connection, and bridges validated frames into the
// room manager. Each session runs an independent read loop and write pump;
// the write pump never holds a room lock while touching the network.
package ws

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedojo/codedojo/internal/logger"
	"github.com/codedojo/codedojo/pkg/clock"
	"github.com/codedojo/codedojo/pkg/metrics"
	"github.com/codedojo/codedojo/pkg/protocol"
	"github.com/codedojo/codedojo/pkg/room"
)

// Options tune the transport adapter.
type Options struct {
	// IdleTimeout is how long a session may stay silent (no frames, no
	// pong replies) before it is closed. Pings go out at half of it, so a
	// peer must miss two before the deadline lapses.
	IdleTimeout time.Duration

	// WriteTimeout bounds each write to the peer.
	WriteTimeout time.Duration

	// SendQueueCap is the outbound queue depth per session.
	SendQueueCap int

	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64
}

// DefaultOptions returns the standard transport tunables.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Second,
		SendQueueCap: 256,
		ReadLimit:    128 * 1024,
	}
}

// Adapter accepts WebSocket connections and runs their sessions.
type Adapter struct {
	opts      Options
	manager   *room.Manager
	validator *protocol.Validator
	clk       clock.Clock
	ids       clock.IDGenerator
	session   metrics.SessionMetrics

	upgrader websocket.Upgrader
	active   atomic.Int64
}

// NewAdapter creates an Adapter. session may be nil to disable metrics.
func NewAdapter(opts Options, manager *room.Manager, validator *protocol.Validator, clk clock.Clock, ids clock.IDGenerator, session metrics.SessionMetrics) *Adapter {
	return &Adapter{
		opts:      opts,
		manager:   manager,
		validator: validator,
		clk:       clk,
		ids:       ids,
		session:   session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Identity is pre-authenticated upstream; the core accepts any
			// origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the session until the connection
// closes.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			logger.KeyRemoteAddr, r.RemoteAddr,
			logger.KeyError, err)
		return
	}

	s := newSession(a, conn)
	count := a.active.Add(1)
	if a.session != nil {
		a.session.SetActiveSessions(int(count))
	}
	logger.Debug("session opened",
		logger.KeySession, s.id,
		logger.KeyRemoteAddr, r.RemoteAddr)

	go s.writePump()
	s.readLoop()

	count = a.active.Add(-1)
	if a.session != nil {
		a.session.SetActiveSessions(int(count))
	}
}

// ActiveSessions returns the number of live sessions.
func (a *Adapter) ActiveSessions() int {
	return int(a.active.Load())
}
