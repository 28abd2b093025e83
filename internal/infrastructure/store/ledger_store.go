package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a balance row's version no longer
// matches the value read at the start of the posting, per spec.md §4.2
// step 4.
var ErrVersionConflict = errors.New("balance version conflict")

// ErrSerializationFailure wraps Postgres's serialization_failure SQLSTATE
// (40001), raised under Serializable isolation when two transactions
// cannot be ordered consistently.
var ErrSerializationFailure = errors.New("serialization failure")

const serializationFailureCode = "40001"

// LedgerStore holds the Posting Engine's durable operations: account and
// balance reads, the posting transaction, and reversal marking (batch
// assignment lives in BatchStore). Grounded in the teacher's AtomicTransfer (ascending-id lock
// ordering under FOR UPDATE) and generalized to arbitrary account pairs,
// optimistic balance versions, and ledger-entry append.
type LedgerStore struct {
	store *Store
}

func NewLedgerStore(s *Store) *LedgerStore {
	return &LedgerStore{store: s}
}

// GetAccount fetches an account by id.
func (s *LedgerStore) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	var a models.Account
	err := s.store.pool.QueryRow(ctx, `
		SELECT id, external_id, name, type, status, currency, metadata, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.ExternalID, &a.Name, &a.Type, &a.Status, &a.Currency, &a.Metadata, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

// EnsureAccount upserts an account row by external_id, returning its id.
// Account lifecycle management is an external collaborator's concern
// (spec.md §3's AccountService); this exists only so a caller driving the
// kernel end to end has somewhere to get a participant account from.
func (s *LedgerStore) EnsureAccount(ctx context.Context, externalID, name string, accountType models.AccountType, currency string) (uuid.UUID, error) {
	newID := uuid.New()
	var id uuid.UUID
	err := s.store.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, external_id, name, type, status, currency, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb, now(), now())
		ON CONFLICT (external_id) DO UPDATE SET updated_at = now()
		RETURNING id
	`, newID, externalID, name, accountType, models.AccountActive, currency).Scan(&id)
	return id, err
}

// PostingTx is the unit of work handed to the posting engine: it runs
// inside a single Serializable transaction and is responsible for row
// locking, balance re-checks, entry inserts, and balance/transaction
// updates. Returning an error rolls the whole unit back.
type PostingTx struct {
	tx pgx.Tx
}

// BeginPosting starts a Serializable transaction and locks both accounts'
// balance rows in ascending (account_id, currency) order, matching
// spec.md §4.2 step 1 / §5's locking discipline.
func (s *LedgerStore) BeginPosting(ctx context.Context, accountA, accountB uuid.UUID, currency string) (*PostingTx, error) {
	tx, err := s.store.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin posting transaction: %w", err)
	}

	first, second := accountA, accountB
	if bytesGreater(first, second) {
		first, second = second, first
	}

	for _, id := range []uuid.UUID{first, second} {
		if _, err := lockBalanceRow(ctx, tx, id, currency); err != nil {
			tx.Rollback(ctx)
			return nil, err
		}
	}

	return &PostingTx{tx: tx}, nil
}

func lockBalanceRow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currency string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM account_balances WHERE account_id = $1 AND currency = $2 FOR UPDATE)
	`, accountID, currency).Scan(&exists)
	return exists, err
}

// ReadBalance reads the current balance row within the posting
// transaction (step 2: re-read after locking). If the row does not yet
// exist, a zero balance at version 0 is returned so first-posting accounts
// don't need a seed row.
func (p *PostingTx) ReadBalance(ctx context.Context, accountID uuid.UUID, currency string) (models.AccountBalance, error) {
	b := models.AccountBalance{AccountID: accountID, Currency: currency, Available: money.Zero, Pending: money.Zero, Reserved: money.Zero}
	err := p.tx.QueryRow(ctx, `
		SELECT available, pending, reserved, version, last_updated
		FROM account_balances WHERE account_id = $1 AND currency = $2
	`, accountID, currency).Scan(&b.Available, &b.Pending, &b.Reserved, &b.Version, &b.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	return b, err
}

// UpsertBalance writes a balance row under optimistic concurrency: if the
// row exists, the update only applies when the stored version still
// matches expectedVersion (spec.md §4.2 step 4); if it doesn't exist yet,
// it's inserted at version 1.
func (p *PostingTx) UpsertBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error {
	tag, err := p.tx.Exec(ctx, `
		INSERT INTO account_balances (account_id, currency, available, pending, reserved, version, last_updated)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (account_id, currency) DO UPDATE
		SET available = $3, pending = $4, reserved = $5, version = account_balances.version + 1, last_updated = now()
		WHERE account_balances.version = $6
	`, b.AccountID, b.Currency, b.Available, b.Pending, b.Reserved, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// InsertLedgerEntry appends one debit or credit row (append-only, never
// updated).
func (p *PostingTx) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type, amount, currency, balance_after, effective_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, e.ID, e.TransactionID, e.AccountID, e.EntryType, e.Amount, e.Currency, e.BalanceAfter, e.EffectiveDate)
	return err
}

// SettleTransaction moves a transaction to Settled with settled_at = now.
func (p *PostingTx) SettleTransaction(ctx context.Context, tx models.Transaction) error {
	_, err := p.tx.Exec(ctx, `
		UPDATE transactions SET status = $1, settled_at = now() WHERE id = $2
	`, models.TxSettled, tx.ID)
	return err
}

// FailTransaction moves a transaction to Failed with no side effect on
// balances (the caller rolls back the same unit of work).
func (p *PostingTx) FailTransaction(ctx context.Context, txID uuid.UUID) error {
	_, err := p.tx.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, models.TxFailed, txID)
	return err
}

// InsertTransaction creates the Pending transaction row the posting engine
// will settle or fail within the same unit of work.
func (p *PostingTx) InsertTransaction(ctx context.Context, t models.Transaction) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO transactions
			(id, external_id, type, status, source_account_id, destination_account_id, amount, currency, fee_amount, net_amount, idempotency_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
	`, t.ID, t.ExternalID, t.Type, t.Status, t.SourceAccount, t.DestAccount, t.Amount, t.Currency, t.FeeAmount, t.NetAmount, t.IdempotencyKey, t.Metadata)
	return err
}

// Commit commits the posting transaction. A Postgres serialization failure
// (40001) is translated to ErrSerializationFailure so the posting engine's
// retry loop can recognize it.
func (p *PostingTx) Commit(ctx context.Context) error {
	err := p.tx.Commit(ctx)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
		return ErrSerializationFailure
	}
	return err
}

// Rollback aborts the posting transaction.
func (p *PostingTx) Rollback(ctx context.Context) error {
	return p.tx.Rollback(ctx)
}

// MarkReversed transitions a settled transaction to Reversed, recording
// the mirror transaction's id in its metadata.
func (s *LedgerStore) MarkReversed(ctx context.Context, originalID, mirrorID uuid.UUID) error {
	_, err := s.store.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $1, metadata = metadata || jsonb_build_object('reversed_by', $2::text)
		WHERE id = $3
	`, models.TxReversed, mirrorID, originalID)
	return err
}

// bytesGreater orders two UUIDs so lock acquisition is deterministic
// regardless of caller-supplied (source, dest) order, precluding the
// deadlock cycles spec.md §5 calls out.
func bytesGreater(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
