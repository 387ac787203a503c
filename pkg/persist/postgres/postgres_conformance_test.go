//go:build e2e

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codedojo/codedojo/pkg/persist"
	"github.com/codedojo/codedojo/pkg/persist/persisttest"
)

// postgresDSN returns a connection string for the conformance run: an
// external server via COLLAB_POSTGRES_DSN when set, otherwise a throwaway
// testcontainer.
func postgresDSN(t *testing.T) string {
	t.Helper()

	if dsn := os.Getenv("COLLAB_POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("collab_test"),
		tcpostgres.WithUsername("collab"),
		tcpostgres.WithPassword("collab"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStoreConformance(t *testing.T) {
	dsn := postgresDSN(t)

	persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
		store, err := Open(t.Context(), dsn, persist.DefaultTTLs())
		require.NoError(t, err)
		t.Cleanup(func() {
			// Each subtest shares the database; clear it for isolation.
			ctx := context.Background()
			for _, table := range []string{"collab_snapshots", "collab_operations", "collab_cursors"} {
				_, _ = store.pool.Exec(ctx, "TRUNCATE "+table)
			}
			_ = store.Close()
		})
		return store
	})
}
