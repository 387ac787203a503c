package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/persist/persisttest"
	"github.com/codedojo/codedojo/pkg/protocol"
)

func TestMemoryStoreConformance(t *testing.T) {
	persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
		return New(persist.DefaultTTLs())
	})
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Now()
	current := now
	store := New(persist.TTLs{
		Snapshots:  time.Hour,
		Operations: time.Minute,
		Cursors:    time.Second,
	}, WithClock(func() time.Time { return current }))

	ctx := t.Context()
	require.NoError(t, store.SaveSnapshot(ctx, "r", persist.Snapshot{Version: 1, Content: "x", UpdatedAt: now}))
	require.NoError(t, store.SaveCursor(ctx, "r", "alice", protocol.Cursor{Line: 1}))

	// Within every window.
	_, err := store.LoadLatestSnapshot(ctx, "r")
	require.NoError(t, err)
	cursors, err := store.LoadCursors(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, cursors, 1)

	// Past the cursor window but within the snapshot window.
	current = now.Add(time.Minute)
	cursors, err = store.LoadCursors(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, cursors)
	_, err = store.LoadLatestSnapshot(ctx, "r")
	require.NoError(t, err)

	// Past everything.
	current = now.Add(2 * time.Hour)
	_, err = store.LoadLatestSnapshot(ctx, "r")
	assert.True(t, persist.IsNotFound(err))
}
