// Package postgres implements persist.Store on PostgreSQL via pgx. It suits
// deployments that already run Postgres and want collaboration state in the
// same place as the rest of their data.
//
// Retention is implemented with an expires_at column: writes stamp the
// expiry, reads filter on it, and a coarse periodic purge removes dead rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS collab_snapshots (
	room_id    TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	content    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS collab_operations (
	room_id    TEXT NOT NULL,
	version    BIGINT NOT NULL,
	op         JSONB NOT NULL,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (room_id, version)
);

CREATE TABLE IF NOT EXISTS collab_cursors (
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	line       INT NOT NULL,
	col        INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (room_id, user_id)
);
`

// purgeInterval bounds how often dead rows are swept.
const purgeInterval = time.Hour

// Store implements persist.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	ttls persist.TTLs

	purgeCancel context.CancelFunc
}

// Open connects to PostgreSQL, creates the schema if missing, and starts the
// background expiry purge.
func Open(ctx context.Context, dsn string, ttls persist.TTLs) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, Message: "connect postgres", Err: err}
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, &persist.StoreError{Code: persist.ErrIO, Message: "create schema", Err: err}
	}

	purgeCtx, cancel := context.WithCancel(context.Background())
	s := &Store{pool: pool, ttls: ttls, purgeCancel: cancel}
	go s.purgeLoop(purgeCtx)
	return s, nil
}

func (s *Store) Close() error {
	s.purgeCancel()
	s.pool.Close()
	return nil
}

func (s *Store) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, table := range []string{"collab_snapshots", "collab_operations", "collab_cursors"} {
				// Best effort; expired rows are filtered on read anyway.
				_, _ = s.pool.Exec(ctx, "DELETE FROM "+table+" WHERE expires_at IS NOT NULL AND expires_at < now()")
			}
		}
	}
}

// expiry converts a TTL into an expires_at value, nil meaning "keep forever".
func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (s *Store) SaveSnapshot(ctx context.Context, roomID string, snap persist.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collab_snapshots (room_id, version, content, updated_at, updated_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id) DO UPDATE SET
			version = EXCLUDED.version,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by,
			expires_at = EXCLUDED.expires_at`,
		roomID, snap.Version, snap.Content, snap.UpdatedAt, snap.UpdatedBy, expiry(s.ttls.Snapshots))
	if err != nil {
		return &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "save snapshot", Err: err}
	}
	return nil
}

func (s *Store) LoadLatestSnapshot(ctx context.Context, roomID string) (persist.Snapshot, error) {
	var snap persist.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT version, content, updated_at, updated_by
		FROM collab_snapshots
		WHERE room_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		roomID).Scan(&snap.Version, &snap.Content, &snap.UpdatedAt, &snap.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return persist.Snapshot{}, persist.NotFound(roomID, "snapshot")
	}
	if err != nil {
		return persist.Snapshot{}, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "load snapshot", Err: err}
	}
	return snap, nil
}

func (s *Store) AppendOperation(ctx context.Context, roomID string, op ot.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return &persist.StoreError{Code: persist.ErrEncoding, RoomID: roomID, Message: "encode operation", Err: err}
	}

	// Retransmits of the same version are harmless overwrites.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO collab_operations (room_id, version, op, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, version) DO UPDATE SET op = EXCLUDED.op`,
		roomID, op.Version, data, expiry(s.ttls.Operations))
	if err != nil {
		return &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "append operation", Err: err}
	}
	return nil
}

func (s *Store) LoadOperationsSince(ctx context.Context, roomID string, version int) ([]ot.Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT op FROM collab_operations
		WHERE room_id = $1 AND version > $2 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY version`,
		roomID, version)
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "load operations", Err: err}
	}
	defer rows.Close()

	ops := make([]ot.Operation, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "scan operation", Err: err}
		}
		var op ot.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, &persist.StoreError{Code: persist.ErrEncoding, RoomID: roomID, Message: "decode operation", Err: err}
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "iterate operations", Err: err}
	}
	return ops, nil
}

func (s *Store) SaveCursor(ctx context.Context, roomID, userID string, cursor protocol.Cursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collab_cursors (room_id, user_id, line, col, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			line = EXCLUDED.line,
			col = EXCLUDED.col,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`,
		roomID, userID, cursor.Line, cursor.Column, expiry(s.ttls.Cursors))
	if err != nil {
		return &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "save cursor", Err: err}
	}
	return nil
}

func (s *Store) LoadCursors(ctx context.Context, roomID string) ([]persist.CursorRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, line, col, updated_at
		FROM collab_cursors
		WHERE room_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		roomID)
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "load cursors", Err: err}
	}
	defer rows.Close()

	cursors := make([]persist.CursorRecord, 0)
	for rows.Next() {
		var rec persist.CursorRecord
		if err := rows.Scan(&rec.UserID, &rec.Cursor.Line, &rec.Cursor.Column, &rec.UpdatedAt); err != nil {
			return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "scan cursor", Err: err}
		}
		cursors = append(cursors, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "iterate cursors", Err: err}
	}
	return cursors, nil
}
