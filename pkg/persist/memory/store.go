// Package memory provides an in-memory persist.Store. It backs tests and
// ephemeral deployments where durability across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// Store implements persist.Store with maps guarded by a read-write mutex.
// Retention windows are honored by filtering expired entries on read.
type Store struct {
	mu sync.RWMutex

	ttls persist.TTLs
	now  func() time.Time

	snapshots map[string]entry[persist.Snapshot]
	// operations maps roomID to version-ordered appended ops.
	operations map[string][]entry[ot.Operation]
	cursors    map[string]map[string]entry[persist.CursorRecord]
}

type entry[T any] struct {
	value   T
	savedAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock substitutes the time source, letting tests drive TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty in-memory store with the given retention windows.
func New(ttls persist.TTLs, opts ...Option) *Store {
	s := &Store{
		ttls:       ttls,
		now:        time.Now,
		snapshots:  make(map[string]entry[persist.Snapshot]),
		operations: make(map[string][]entry[ot.Operation]),
		cursors:    make(map[string]map[string]entry[persist.CursorRecord]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) expired(savedAt time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return s.now().Sub(savedAt) > ttl
}

func (s *Store) SaveSnapshot(ctx context.Context, roomID string, snap persist.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[roomID] = entry[persist.Snapshot]{value: snap, savedAt: s.now()}
	return nil
}

func (s *Store) LoadLatestSnapshot(ctx context.Context, roomID string) (persist.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return persist.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.snapshots[roomID]
	if !ok || s.expired(e.savedAt, s.ttls.Snapshots) {
		return persist.Snapshot{}, persist.NotFound(roomID, "snapshot")
	}
	return e.value, nil
}

func (s *Store) AppendOperation(ctx context.Context, roomID string, op ot.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[roomID] = append(s.operations[roomID], entry[ot.Operation]{value: op, savedAt: s.now()})
	return nil
}

func (s *Store) LoadOperationsSince(ctx context.Context, roomID string, version int) ([]ot.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ot.Operation, 0)
	for _, e := range s.operations[roomID] {
		if e.value.Version > version && !s.expired(e.savedAt, s.ttls.Operations) {
			out = append(out, e.value)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) SaveCursor(ctx context.Context, roomID, userID string, cursor protocol.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.cursors[roomID]
	if !ok {
		room = make(map[string]entry[persist.CursorRecord])
		s.cursors[roomID] = room
	}
	now := s.now()
	room[userID] = entry[persist.CursorRecord]{
		value:   persist.CursorRecord{UserID: userID, Cursor: cursor, UpdatedAt: now},
		savedAt: now,
	}
	return nil
}

func (s *Store) LoadCursors(ctx context.Context, roomID string) ([]persist.CursorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persist.CursorRecord, 0)
	for _, e := range s.cursors[roomID] {
		if !s.expired(e.savedAt, s.ttls.Cursors) {
			out = append(out, e.value)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
