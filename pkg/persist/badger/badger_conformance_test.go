package badger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/persist/persisttest"
)

func TestBadgerStoreConformance(t *testing.T) {
	persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
		store, err := Open(t.TempDir(), persist.DefaultTTLs())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestBadgerStoreInMemoryConformance(t *testing.T) {
	persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
		store, err := Open("", persist.DefaultTTLs())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
