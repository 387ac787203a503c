package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so room and session
// events can be correlated during log aggregation and querying.
const (
	// Collaboration identifiers
	KeyRoomID   = "room_id"   // Room identifier
	KeyClientID = "client_id" // Stable per-connection client identifier
	KeyUserID   = "user_id"   // User identity behind the connection
	KeySession  = "session"   // Server-assigned session identifier

	// Document operations
	KeyOpID        = "op_id"        // Operation identifier (client-chosen or server fallback)
	KeyOpType      = "op_type"      // insert, delete, noop
	KeyVersion     = "version"      // Document version after apply
	KeyBaseVersion = "base_version" // Version the client observed when producing the op
	KeyPosition    = "position"     // Operation position in the document

	// Protocol
	KeyFrameType = "frame_type" // Inbound/outbound frame type tag
	KeyErrorCode = "error_code" // Protocol error code sent to the client

	// Operations / housekeeping
	KeyError         = "error"          // Error value
	KeyCorrelationID = "correlation_id" // Correlates internal errors with ERROR frames
	KeyDurationMs    = "duration_ms"    // Operation duration in milliseconds
	KeyRemoteAddr    = "remote_addr"    // Client network address
	KeyBackend       = "backend"        // Persistence backend name
)
