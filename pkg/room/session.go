package room

// SessionHandle is the manager's view of one live client connection. The
// websocket adapter implements it; tests substitute in-memory fakes.
//
// Implementations must be safe for concurrent use: the manager calls these
// methods while holding a room lock, from multiple goroutines.
type SessionHandle interface {
	// ClientID returns the stable per-connection client identifier.
	ClientID() string

	// UserID returns the user identity behind the connection.
	UserID() string

	// Enqueue appends an encoded frame to the session's bounded outbound
	// queue. It never blocks; it returns false when the queue is full,
	// which marks the session unhealthy.
	Enqueue(frame []byte) bool

	// QueueDepth returns the number of unsent frames in the outbound queue.
	QueueDepth() int

	// Kick asks the session to close. The adapter is expected to drain
	// already-queued frames, close the transport, and eventually call
	// Manager.Disconnect.
	Kick(reason string)
}
