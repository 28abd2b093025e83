package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/idempotency"
)

const uniqueViolation = "23505"

// IdempotencyStore implements idempotency.Store against the
// idempotency_keys table, arbitrating concurrent claims with its unique
// index on idempotency_key rather than a row lock held across the caller's
// operation, per spec.md §5's locking discipline.
type IdempotencyStore struct {
	store *Store
}

func NewIdempotencyStore(s *Store) *IdempotencyStore {
	return &IdempotencyStore{store: s}
}

func (s *IdempotencyStore) Claim(ctx context.Context, record models.IdempotencyRecord) error {
	_, err := s.store.pool.Exec(ctx, `
		INSERT INTO idempotency_keys
			(id, idempotency_key, client_id, operation_type, status, request_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.Key, record.ClientID, record.OperationType, record.Status, record.RequestHash,
		record.CreatedAt, record.ExpiresAt)

	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return idempotency.ErrKeyConflict
	}
	return err
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (models.IdempotencyRecord, bool, error) {
	var r models.IdempotencyRecord
	var responseData []byte
	var errMessage *string
	var completedAt *time.Time

	err := s.store.pool.QueryRow(ctx, `
		SELECT id, idempotency_key, client_id, operation_type, status, request_hash,
		       response_data, error_message, created_at, expires_at, completed_at
		FROM idempotency_keys
		WHERE idempotency_key = $1
	`, key).Scan(&r.ID, &r.Key, &r.ClientID, &r.OperationType, &r.Status, &r.RequestHash,
		&responseData, &errMessage, &r.CreatedAt, &r.ExpiresAt, &completedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return models.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return models.IdempotencyRecord{}, false, err
	}

	r.ResponseData = responseData
	if errMessage != nil {
		r.ErrorMessage = *errMessage
	}
	r.CompletedAt = completedAt
	return r, true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, status models.IdempotencyStatus, response []byte, errMessage string) error {
	_, err := s.store.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, response_data = $2, error_message = NULLIF($3, ''), completed_at = now()
		WHERE idempotency_key = $4
	`, status, response, errMessage, key)
	return err
}
