package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/config"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/store"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/telemetry"
)

// ledgerBackend is the durable-store surface the posting engine needs.
// store.LedgerStore satisfies it through the engineStore adapter below; a
// unit test satisfies it directly with an in-memory fake, since
// store.LedgerStore itself is a concrete pgx-backed type that can't run
// without a real Postgres connection.
type ledgerBackend interface {
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	BeginPosting(ctx context.Context, accountA, accountB uuid.UUID, currency string) (postingTx, error)
	MarkReversed(ctx context.Context, originalID, mirrorID uuid.UUID) error
}

// postingTx is the unit-of-work surface the posting engine drives within
// one attempt. *store.PostingTx satisfies it as-is.
type postingTx interface {
	ReadBalance(ctx context.Context, accountID uuid.UUID, currency string) (models.AccountBalance, error)
	UpsertBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error
	InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error
	SettleTransaction(ctx context.Context, tx models.Transaction) error
	FailTransaction(ctx context.Context, txID uuid.UUID) error
	InsertTransaction(ctx context.Context, t models.Transaction) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// engineStore adapts *store.LedgerStore's concrete *store.PostingTx return
// value to the postingTx interface so the engine can depend on an
// interface without store.LedgerStore itself needing to change shape.
type engineStore struct {
	ls *store.LedgerStore
}

func (e engineStore) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return e.ls.GetAccount(ctx, id)
}

func (e engineStore) BeginPosting(ctx context.Context, accountA, accountB uuid.UUID, currency string) (postingTx, error) {
	return e.ls.BeginPosting(ctx, accountA, accountB, currency)
}

func (e engineStore) MarkReversed(ctx context.Context, originalID, mirrorID uuid.UUID) error {
	return e.ls.MarkReversed(ctx, originalID, mirrorID)
}

// Engine is the Double-Entry Posting Engine: it validates a request, then
// commits the debit/credit pair under Serializable isolation with
// deterministic lock ordering and optimistic balance versions, retrying
// transient failures with exponential backoff per spec.md §4.2 step 6.
type Engine struct {
	ledger ledgerBackend
	sink   events.Sink
	retry  config.PostingRetryConfig
	clock  func() time.Time
}

func NewEngine(ledger *store.LedgerStore, sink events.Sink, retry config.PostingRetryConfig) *Engine {
	return &Engine{ledger: engineStore{ls: ledger}, sink: sink, retry: retry, clock: time.Now}
}

// Post settles one transaction: the whole posting protocol (validation,
// locking, balance update, ledger append, transaction settle) runs inside
// a single durable transaction, retried up to retry.MaxAttempts times on
// serialization failure or optimistic version conflict.
func (e *Engine) Post(ctx context.Context, req PostingRequest) (models.Transaction, error) {
	started := e.clock()
	txn := models.Transaction{
		ID:             uuid.New(),
		Type:           req.Type,
		Status:         models.TxPending,
		SourceAccount:  req.SourceAccount.ID,
		DestAccount:    req.DestAccount.ID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		FeeAmount:      req.FeeAmount,
		NetAmount:      req.Amount.Sub(req.FeeAmount),
		ExternalID:     req.ExternalID,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]any{},
		CreatedAt:      started,
	}

	var lastErr error
	maxAttempts := e.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.retry.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return models.Transaction{}, kernelerrors.Timeout("context cancelled during posting retry backoff")
			}
		}

		committed, err := e.attempt(ctx, txn, req)
		if err == nil {
			telemetry.RecordPosting(string(req.Type), "settled", time.Since(started).Seconds())
			e.notify(committed)
			return committed, nil
		}

		lastErr = err
		if !isRetryable(err) {
			telemetry.RecordPosting(string(req.Type), "failed", time.Since(started).Seconds())
			return models.Transaction{}, err
		}
		logging.Warn("posting attempt failed, retrying", map[string]any{
			"transaction_id": txn.ID.String(),
			"attempt":        attempt + 1,
			"error":          err.Error(),
		})
	}

	telemetry.RecordPosting(string(req.Type), "transient_conflict", time.Since(started).Seconds())
	return models.Transaction{}, kernelerrors.TransientConflict("posting exhausted retry attempts: " + lastErr.Error())
}

func (e *Engine) attempt(ctx context.Context, txn models.Transaction, req PostingRequest) (models.Transaction, error) {
	ptx, err := e.ledger.BeginPosting(ctx, req.SourceAccount.ID, req.DestAccount.ID, req.Currency)
	if err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}
	defer ptx.Rollback(ctx)

	sourceBal, err := ptx.ReadBalance(ctx, req.SourceAccount.ID, req.Currency)
	if err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}
	destBal, err := ptx.ReadBalance(ctx, req.DestAccount.ID, req.Currency)
	if err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	if err := Validate(req, sourceBal); err != nil {
		if insErr := ptx.InsertTransaction(ctx, txn); insErr == nil {
			ptx.FailTransaction(ctx, txn.ID)
			ptx.Commit(ctx)
		}
		return models.Transaction{}, err
	}

	if err := ptx.InsertTransaction(ctx, txn); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	now := e.clock()
	newSourceAvailable := sourceBal.Available.Sub(req.Amount)
	newDestAvailable := destBal.Available.Add(req.Amount)

	debit := models.LedgerEntry{
		ID: uuid.New(), TransactionID: txn.ID, AccountID: req.SourceAccount.ID,
		EntryType: models.EntryDebit, Amount: req.Amount, Currency: req.Currency,
		BalanceAfter: newSourceAvailable, EffectiveDate: now,
	}
	credit := models.LedgerEntry{
		ID: uuid.New(), TransactionID: txn.ID, AccountID: req.DestAccount.ID,
		EntryType: models.EntryCredit, Amount: req.Amount, Currency: req.Currency,
		BalanceAfter: newDestAvailable, EffectiveDate: now,
	}

	if err := ptx.InsertLedgerEntry(ctx, debit); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}
	if err := ptx.InsertLedgerEntry(ctx, credit); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	sourceBal.Available = newSourceAvailable
	destBal.Available = newDestAvailable
	if err := ptx.UpsertBalance(ctx, sourceBal, sourceBal.Version); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}
	if err := ptx.UpsertBalance(ctx, destBal, destBal.Version); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	if err := ptx.SettleTransaction(ctx, txn); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	if err := ptx.Commit(ctx); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	txn.Status = models.TxSettled
	txn.SettledAt = &now
	return txn, nil
}

// Reverse constructs the mirror transaction for a Settled→Reversed chain
// (spec.md §4.2 "Reversal"): a Credit against the original source and a
// Debit against the original destination, linked via metadata, committed
// as its own posting. The original only becomes Reversed once the mirror
// commits; a transaction already Reversed is rejected as a double
// reversal.
func (e *Engine) Reverse(ctx context.Context, original models.Transaction) (models.Transaction, error) {
	if original.Status != models.TxSettled {
		if original.Status == models.TxReversed {
			return models.Transaction{}, kernelerrors.DoubleReversal("transaction already reversed")
		}
		return models.Transaction{}, kernelerrors.IllegalStateTransition("only settled transactions can be reversed")
	}

	sourceAcct, err := e.ledger.GetAccount(ctx, original.DestAccount)
	if err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}
	destAcct, err := e.ledger.GetAccount(ctx, original.SourceAccount)
	if err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	mirror, err := e.Post(ctx, PostingRequest{
		Type:           original.Type,
		SourceAccount:  sourceAcct,
		DestAccount:    destAcct,
		Amount:         original.Amount,
		FeeAmount:      original.FeeAmount,
		Currency:       original.Currency,
		ExternalID:     "reversal:" + original.ID.String(),
		IdempotencyKey: "reversal:" + original.ID.String(),
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if err := CheckTransition(original.Status, models.TxReversed); err != nil {
		return models.Transaction{}, err
	}
	if err := e.ledger.MarkReversed(ctx, original.ID, mirror.ID); err != nil {
		return models.Transaction{}, translateStoreErr(err)
	}

	return mirror, nil
}

func (e *Engine) notify(txn models.Transaction) {
	if e.sink == nil {
		return
	}
	if err := e.sink.PublishTransaction(events.TransactionEvent{
		TransactionID: txn.ID,
		Status:        string(txn.Status),
		Timestamp:     e.clock(),
	}); err != nil {
		logging.Warn("failed to publish transaction event", map[string]any{"transaction_id": txn.ID.String(), "error": err.Error()})
	}
}

func isRetryable(err error) bool {
	var ke *kernelerrors.KernelError
	if errors.As(err, &ke) {
		return ke.Retryable()
	}
	return false
}

func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrSerializationFailure):
		return kernelerrors.SerializationFailure(err)
	case errors.Is(err, store.ErrVersionConflict):
		return kernelerrors.ConcurrencyConflict("balance version changed since read")
	case errors.Is(err, store.ErrNotFound):
		return kernelerrors.UnknownAccount("account not found")
	default:
		return kernelerrors.StoreUnavailable(err)
	}
}
