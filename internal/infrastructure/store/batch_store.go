package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

// BatchStore holds the Batch Service's durable operations: batch
// creation/lookup, transaction assignment, and the batch state machine,
// following the same pgx-transaction-with-row-lock idiom as LedgerStore.
type BatchStore struct {
	store *Store
}

func NewBatchStore(s *Store) *BatchStore {
	return &BatchStore{store: s}
}

// FindPendingBatch finds the unique Pending batch for (currency,
// settlement_date, cut_off_time), if one exists.
func (s *BatchStore) FindPendingBatch(ctx context.Context, currency string, settlementDate, cutOffTime time.Time) (models.SettlementBatch, bool, error) {
	b, err := s.scanBatch(s.store.pool.QueryRow(ctx, `
		SELECT id, status, settlement_date, cut_off_time, total_transactions, gross_amount, net_amount, fee_amount, currency, metadata, created_at, completed_at
		FROM settlement_batches
		WHERE currency = $1 AND settlement_date = $2 AND cut_off_time = $3 AND status = $4
	`, currency, settlementDate, cutOffTime, models.BatchPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SettlementBatch{}, false, nil
	}
	return b, err == nil, err
}

// CreateBatch inserts a new Pending batch.
func (s *BatchStore) CreateBatch(ctx context.Context, b models.SettlementBatch) error {
	_, err := s.store.pool.Exec(ctx, `
		INSERT INTO settlement_batches
			(id, status, settlement_date, cut_off_time, total_transactions, gross_amount, net_amount, fee_amount, currency, metadata, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5, $5, $6, $7, now())
	`, b.ID, models.BatchPending, b.SettlementDate, b.CutOffTime, money.Zero, b.Currency, b.Metadata)
	return err
}

// AssignTransaction atomically sets a transaction's batch_id and bumps the
// batch's running totals, per spec.md §4.4's assignment rule.
func (s *BatchStore) AssignTransaction(ctx context.Context, batchID, transactionID uuid.UUID, amount, fee money.Amount) error {
	tx, err := s.store.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE transactions SET settlement_batch_id = $1 WHERE id = $2`, batchID, transactionID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE settlement_batches
		SET total_transactions = total_transactions + 1, gross_amount = gross_amount + $1, fee_amount = fee_amount + $2
		WHERE id = $3
	`, amount, fee, batchID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DuePendingBatches returns Pending batches whose cut-off has passed,
// ordered by cut_off_time then id, matching the scheduler's processing
// order guarantee.
func (s *BatchStore) DuePendingBatches(ctx context.Context, asOf time.Time) ([]models.SettlementBatch, error) {
	rows, err := s.store.pool.Query(ctx, `
		SELECT id, status, settlement_date, cut_off_time, total_transactions, gross_amount, net_amount, fee_amount, currency, metadata, created_at, completed_at
		FROM settlement_batches
		WHERE status = $1 AND cut_off_time <= $2
		ORDER BY cut_off_time ASC, id ASC
	`, models.BatchPending, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.SettlementBatch
	for rows.Next() {
		b, err := s.scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// TransitionBatch moves a batch between states (Pending→Processing,
// Processing→Completed/Failed, Failed→Processing on retry).
func (s *BatchStore) TransitionBatch(ctx context.Context, batchID uuid.UUID, to models.BatchStatus) error {
	var completedAtClause string
	if to == models.BatchCompleted {
		completedAtClause = ", completed_at = now()"
	}
	_, err := s.store.pool.Exec(ctx, `UPDATE settlement_batches SET status = $1`+completedAtClause+` WHERE id = $2`, to, batchID)
	return err
}

// SetNetAmount records the batch's computed net_amount once netting
// completes.
func (s *BatchStore) SetNetAmount(ctx context.Context, batchID uuid.UUID, netAmount money.Amount) error {
	_, err := s.store.pool.Exec(ctx, `UPDATE settlement_batches SET net_amount = $1 WHERE id = $2`, netAmount, batchID)
	return err
}

// MemberTransactions returns every transaction assigned to a batch.
func (s *BatchStore) MemberTransactions(ctx context.Context, batchID uuid.UUID) ([]models.Transaction, error) {
	rows, err := s.store.pool.Query(ctx, `
		SELECT id, external_id, type, status, source_account_id, destination_account_id, amount, currency, fee_amount, net_amount, settlement_batch_id, idempotency_key, metadata, created_at, settled_at
		FROM transactions WHERE settlement_batch_id = $1
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Type, &t.Status, &t.SourceAccount, &t.DestAccount, &t.Amount, &t.Currency, &t.FeeAmount, &t.NetAmount, &t.BatchID, &t.IdempotencyKey, &t.Metadata, &t.CreatedAt, &t.SettledAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *BatchStore) scanBatch(row pgx.Row) (models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := row.Scan(&b.ID, &b.Status, &b.SettlementDate, &b.CutOffTime, &b.TotalTransactions, &b.GrossAmount, &b.NetAmount, &b.FeeAmount, &b.Currency, &b.Metadata, &b.CreatedAt, &b.CompletedAt)
	return b, err
}

func (s *BatchStore) scanBatchRow(rows pgx.Rows) (models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := rows.Scan(&b.ID, &b.Status, &b.SettlementDate, &b.CutOffTime, &b.TotalTransactions, &b.GrossAmount, &b.NetAmount, &b.FeeAmount, &b.Currency, &b.Metadata, &b.CreatedAt, &b.CompletedAt)
	return b, err
}
