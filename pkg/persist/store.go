// Package persist defines the narrow persistence port the collaboration core
// writes through: durable snapshots, an append-only operation log, and last
// known cursors. The core treats every failure here as non-fatal: logged and
// skipped, never surfaced to clients, never blocking the apply path.
//
// Implementations live in the subpackages badger (embedded, default),
// postgres, and memory (tests and ephemeral runs). All implementations must
// pass the conformance suite in persisttest.
package persist

import (
	"context"
	"time"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// Snapshot is a durable {version, content} pair for one room.
type Snapshot struct {
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// CursorRecord is a persisted per-user cursor.
type CursorRecord struct {
	UserID    string          `json:"userId"`
	Cursor    protocol.Cursor `json:"cursor"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// TTLs control how long each record class is retained. Enforcement is the
// store's job; the core never sees expired entries.
type TTLs struct {
	Snapshots  time.Duration
	Operations time.Duration
	Cursors    time.Duration
}

// DefaultTTLs returns the standard retention windows.
func DefaultTTLs() TTLs {
	return TTLs{
		Snapshots:  60 * 24 * time.Hour,
		Operations: 30 * 24 * time.Hour,
		Cursors:    7 * 24 * time.Hour,
	}
}

// Store is the persistence port.
//
// All methods are safe for concurrent use. Reads of missing records return
// a StoreError with ErrNotFound rather than zero values so callers can
// distinguish "no snapshot yet" from an empty document.
type Store interface {
	// SaveSnapshot overwrites the room's snapshot.
	SaveSnapshot(ctx context.Context, roomID string, snap Snapshot) error

	// LoadLatestSnapshot returns the room's snapshot, or ErrNotFound.
	LoadLatestSnapshot(ctx context.Context, roomID string) (Snapshot, error)

	// AppendOperation appends one applied operation (keyed by its version).
	AppendOperation(ctx context.Context, roomID string, op ot.Operation) error

	// LoadOperationsSince returns persisted operations with versions
	// strictly greater than version, in version order.
	LoadOperationsSince(ctx context.Context, roomID string, version int) ([]ot.Operation, error)

	// SaveCursor overwrites a user's cursor in a room.
	SaveCursor(ctx context.Context, roomID, userID string, cursor protocol.Cursor) error

	// LoadCursors returns all live cursors for a room, in no particular
	// order. A room with no cursors yields an empty slice, not an error.
	LoadCursors(ctx context.Context, roomID string) ([]CursorRecord, error)

	// Close releases the store's resources.
	Close() error
}
