// Package badger implements persist.Store on BadgerDB, the default durable
// backend. Badger's native per-entry TTL enforces the retention windows, so
// expired snapshots, operations and cursors disappear without a sweeper.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// Store implements persist.Store on a BadgerDB instance.
type Store struct {
	db   *badger.DB
	ttls persist.TTLs
}

// Open opens (creating if necessary) a Badger-backed store at path.
// An empty path opens an in-memory instance, useful for tests.
func Open(path string, ttls persist.TTLs) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is noisy; we log at this layer
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, Message: "open badger db", Err: err}
	}
	return &Store{db: db, ttls: ttls}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// setJSON writes a JSON-encoded entry, attaching a TTL when one is set.
func (s *Store) setJSON(roomID string, key []byte, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &persist.StoreError{Code: persist.ErrEncoding, RoomID: roomID, Message: "encode record", Err: err}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "write record", Err: err}
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, roomID string, snap persist.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.setJSON(roomID, keySnapshot(roomID), snap, s.ttls.Snapshots)
}

func (s *Store) LoadLatestSnapshot(ctx context.Context, roomID string) (persist.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return persist.Snapshot{}, err
	}

	var snap persist.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapshot(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return persist.Snapshot{}, persist.NotFound(roomID, "snapshot")
	}
	if err != nil {
		return persist.Snapshot{}, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "read snapshot", Err: err}
	}
	return snap, nil
}

func (s *Store) AppendOperation(ctx context.Context, roomID string, op ot.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.setJSON(roomID, keyOperation(roomID, op.Version), op, s.ttls.Operations)
}

func (s *Store) LoadOperationsSince(ctx context.Context, roomID string, version int) ([]ot.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ops := make([]ot.Operation, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := prefixOperations(roomID)
		// Seek directly past the requested version; keys sort by the
		// zero-padded version suffix.
		seek := keyOperation(roomID, version+1)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var op ot.Operation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "scan operations", Err: err}
	}
	return ops, nil
}

func (s *Store) SaveCursor(ctx context.Context, roomID, userID string, cursor protocol.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := persist.CursorRecord{UserID: userID, Cursor: cursor, UpdatedAt: time.Now()}
	return s.setJSON(roomID, keyCursor(roomID, userID), rec, s.ttls.Cursors)
}

func (s *Store) LoadCursors(ctx context.Context, roomID string) ([]persist.CursorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cursors := make([]persist.CursorRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := prefixCursors(roomID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec persist.CursorRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			cursors = append(cursors, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &persist.StoreError{Code: persist.ErrIO, RoomID: roomID, Message: "scan cursors", Err: err}
	}
	return cursors, nil
}
