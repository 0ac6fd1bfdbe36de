package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres container and returns a migrated store.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("docweave"),
		postgres.WithUsername("docweave"),
		postgres.WithPassword("docweave"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, MigratePostgres(dsn))
	// A second run must be a no-op.
	require.NoError(t, MigratePostgres(dsn))

	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore_Contract(t *testing.T) {
	runStoreContract(t, setupPostgres(t))
}

func TestPostgresStore_TransactionRollback(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "req", "outline", outputFixture(), 0))
	require.NoError(t, tx.Rollback())

	ok, err := store.Exists(ctx, "req", "outline")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = tx.Begin(ctx)
	require.Error(t, err, "nested transactions are not supported")
}
