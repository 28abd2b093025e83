// Package testenv provisions a real Postgres instance for integration
// tests via testcontainers-go, grounded in the teacher's
// test/integration/testenv.SetupPostgresContainer (same wait strategy, same
// cleanup-on-finish idiom), adapted to run the ledger kernel's own schema
// migration instead of the banking schema.
package testenv

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgresPool starts a Postgres testcontainer, applies the kernel's
// schema migration, and returns a ready connection pool. The container and
// pool are torn down automatically when the test completes.
func SetupPostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ledger_kernel"),
		postgres.WithUsername("ledger"),
		postgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres testcontainer")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres testcontainer: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "failed to open connection pool")
	t.Cleanup(pool.Close)

	migration, err := os.ReadFile(migrationPath())
	require.NoError(t, err, "failed to read schema migration")

	_, err = pool.Exec(ctx, string(migration))
	require.NoError(t, err, "failed to apply schema migration")

	return pool
}

func migrationPath() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "internal", "infrastructure", "store", "migrations", "0001_init.sql")
}
