package idempotency

import (
	"context"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
)

// Store is the durable tier of the check-and-claim protocol, backed by the
// idempotency_keys table. It is authoritative whenever the cache disagrees
// with it.
type Store interface {
	// Claim attempts to insert a Processing record. ErrKeyConflict is
	// returned when a row already exists for this key; the caller must then
	// fetch the existing row with Get to decide how to proceed.
	Claim(ctx context.Context, record models.IdempotencyRecord) error

	// Get fetches the current record for a key. ok is false if no row
	// exists.
	Get(ctx context.Context, key string) (record models.IdempotencyRecord, ok bool, err error)

	// Complete transitions a Processing record to a terminal status,
	// storing the response or error payload.
	Complete(ctx context.Context, key string, status models.IdempotencyStatus, response []byte, errMessage string) error
}

// ErrKeyConflict signals Store.Claim lost a race: another writer already
// holds (or completed) this key.
var ErrKeyConflict = &keyConflictError{}

type keyConflictError struct{}

func (*keyConflictError) Error() string { return "idempotency key already claimed" }

// timeNow is indirected so tests can pin the clock.
var timeNow = time.Now
