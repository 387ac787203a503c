// Package persisttest provides a conformance test suite that every
// persist.Store implementation must pass. Backend packages run it from their
// own _test files with a factory that builds a fresh store per test.
package persisttest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedojo/codedojo/pkg/ot"
	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/protocol"
)

// StoreFactory creates a fresh Store for each test. The factory receives
// *testing.T so it can use t.TempDir() and t.Cleanup() for teardown.
type StoreFactory func(t *testing.T) persist.Store

// RunConformanceSuite runs the full suite against the provided factory.
// Each subtest gets a fresh store instance to ensure isolation.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("Snapshots", func(t *testing.T) { runSnapshotTests(t, factory) })
	t.Run("Operations", func(t *testing.T) { runOperationTests(t, factory) })
	t.Run("Cursors", func(t *testing.T) { runCursorTests(t, factory) })
	t.Run("Replay", func(t *testing.T) { runReplayTest(t, factory) })
}

func runSnapshotTests(t *testing.T, factory StoreFactory) {
	t.Run("MissingSnapshotIsNotFound", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		_, err := store.LoadLatestSnapshot(ctx, "nope")
		require.Error(t, err)
		assert.True(t, persist.IsNotFound(err))
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		want := persist.Snapshot{
			Version:   42,
			Content:   "package main\n",
			UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
			UpdatedBy: "alice",
		}
		require.NoError(t, store.SaveSnapshot(ctx, "room-1", want))

		got, err := store.LoadLatestSnapshot(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Content, got.Content)
		assert.Equal(t, want.UpdatedBy, got.UpdatedBy)
	})

	t.Run("NewSnapshotOverwrites", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.SaveSnapshot(ctx, "room-1", persist.Snapshot{Version: 1, Content: "a", UpdatedAt: time.Now()}))
		require.NoError(t, store.SaveSnapshot(ctx, "room-1", persist.Snapshot{Version: 2, Content: "ab", UpdatedAt: time.Now()}))

		got, err := store.LoadLatestSnapshot(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, "ab", got.Content)
	})

	t.Run("RoomsAreIsolated", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.SaveSnapshot(ctx, "room-1", persist.Snapshot{Version: 1, Content: "one", UpdatedAt: time.Now()}))

		_, err := store.LoadLatestSnapshot(ctx, "room-2")
		assert.True(t, persist.IsNotFound(err))
	})
}

func runOperationTests(t *testing.T, factory StoreFactory) {
	appendOps := func(t *testing.T, store persist.Store, roomID string, n int) {
		t.Helper()
		for i := 1; i <= n; i++ {
			op := ot.Operation{
				ID: string(rune('a' + i)), Type: ot.OpInsert, Position: i - 1,
				Content: "x", BaseVersion: i - 1, ClientID: "c1", Version: i,
			}
			require.NoError(t, store.AppendOperation(t.Context(), roomID, op))
		}
	}

	t.Run("EmptyRoomYieldsNoOperations", func(t *testing.T) {
		store := factory(t)

		ops, err := store.LoadOperationsSince(t.Context(), "room-1", 0)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("SinceZeroReturnsAllInOrder", func(t *testing.T) {
		store := factory(t)
		appendOps(t, store, "room-1", 5)

		ops, err := store.LoadOperationsSince(t.Context(), "room-1", 0)
		require.NoError(t, err)
		require.Len(t, ops, 5)
		for i, op := range ops {
			assert.Equal(t, i+1, op.Version)
		}
	})

	t.Run("SinceFiltersStrictlyGreater", func(t *testing.T) {
		store := factory(t)
		appendOps(t, store, "room-1", 5)

		ops, err := store.LoadOperationsSince(t.Context(), "room-1", 3)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, 4, ops[0].Version)
		assert.Equal(t, 5, ops[1].Version)
	})

	t.Run("OperationFieldsSurvive", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		want := ot.Operation{
			ID: "op-1", Type: ot.OpDelete, Position: 3, Content: "déjà",
			BaseVersion: 2, ClientID: "client-9", UserID: "user-9", Version: 3,
		}
		require.NoError(t, store.AppendOperation(ctx, "room-1", want))

		ops, err := store.LoadOperationsSince(ctx, "room-1", 0)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, want, ops[0])
	})
}

func runCursorTests(t *testing.T, factory StoreFactory) {
	t.Run("EmptyRoomYieldsNoCursors", func(t *testing.T) {
		store := factory(t)

		cursors, err := store.LoadCursors(t.Context(), "room-1")
		require.NoError(t, err)
		assert.Empty(t, cursors)
	})

	t.Run("SaveAndList", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.SaveCursor(ctx, "room-1", "alice", protocol.Cursor{Line: 3, Column: 7}))
		require.NoError(t, store.SaveCursor(ctx, "room-1", "bob", protocol.Cursor{Line: 1, Column: 0}))

		cursors, err := store.LoadCursors(ctx, "room-1")
		require.NoError(t, err)
		require.Len(t, cursors, 2)

		byUser := map[string]protocol.Cursor{}
		for _, c := range cursors {
			byUser[c.UserID] = c.Cursor
		}
		assert.Equal(t, protocol.Cursor{Line: 3, Column: 7}, byUser["alice"])
		assert.Equal(t, protocol.Cursor{Line: 1, Column: 0}, byUser["bob"])
	})

	t.Run("SaveOverwritesPerUser", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.SaveCursor(ctx, "room-1", "alice", protocol.Cursor{Line: 1, Column: 1}))
		require.NoError(t, store.SaveCursor(ctx, "room-1", "alice", protocol.Cursor{Line: 9, Column: 9}))

		cursors, err := store.LoadCursors(ctx, "room-1")
		require.NoError(t, err)
		require.Len(t, cursors, 1)
		assert.Equal(t, protocol.Cursor{Line: 9, Column: 9}, cursors[0].Cursor)
	})
}

// runReplayTest checks the round-trip invariant: restoring the latest
// snapshot and replaying the persisted operations after it reproduces the
// live document exactly.
func runReplayTest(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	live := ot.NewDocument()
	submit := func(op ot.Operation) {
		res, err := live.Apply(op, time.Now())
		require.NoError(t, err)
		require.NoError(t, store.AppendOperation(ctx, "room-1", res.Op))
	}

	submit(ot.Operation{ID: "1", Type: ot.OpInsert, Position: 0, Content: "hello world", BaseVersion: 0, ClientID: "a"})
	submit(ot.Operation{ID: "2", Type: ot.OpDelete, Position: 5, Content: " world", BaseVersion: 1, ClientID: "a"})

	// Snapshot mid-stream, then keep editing.
	snap := live.Snapshot()
	require.NoError(t, store.SaveSnapshot(ctx, "room-1", persist.Snapshot{
		Version: snap.Version, Content: snap.Content, UpdatedAt: time.Now(),
	}))

	submit(ot.Operation{ID: "3", Type: ot.OpInsert, Position: 5, Content: ", again", BaseVersion: 2, ClientID: "b"})

	// Recover: snapshot + tail replay.
	loaded, err := store.LoadLatestSnapshot(ctx, "room-1")
	require.NoError(t, err)

	restored := ot.RestoreDocument(loaded.Version, loaded.Content)
	tail, err := store.LoadOperationsSince(ctx, "room-1", loaded.Version)
	require.NoError(t, err)
	for _, op := range tail {
		op.BaseVersion = restored.Version()
		_, err := restored.Apply(op, time.Now())
		require.NoError(t, err)
	}

	assert.Equal(t, live.Content(), restored.Content())
	assert.Equal(t, live.Version(), restored.Version())
}
