// Package store is the durable store adapter: a pgx connection pool plus
// the transactional operations the ledger kernel's subsystems need,
// grounded in the teacher's PostgresRepository (connection pool lifecycle)
// and in punchamoorthee-ledgerops's ExecTransfer (idempotency-claim-in-tx,
// deterministic ascending-id lock ordering, ledger append pattern).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
)

// Store wraps a pgxpool.Pool with the ledger kernel's durable-store
// operations. The posting transaction and batch assignment run at
// Serializable isolation per spec.md §5; NettingStore.InsertPositions uses
// the pool's default isolation level.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against cfg and verifies connectivity.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
		poolConfig.MaxConnLifetime = lifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info("durable store connection pool ready", map[string]any{
		"max_conns": poolConfig.MaxConns,
		"min_conns": poolConfig.MinConns,
	})

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an already-constructed pool, used by integration tests
// that provision their own testcontainers-backed pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
	logging.Info("durable store connection pool closed", nil)
}

// Pool exposes the underlying pool for subsystems (idempotency, posting,
// batch, netting) that need direct access to begin their own transactions.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
