// Package store_test exercises the durable store against a real Postgres
// instance, grounded in the teacher's integration suite (one test file per
// repository, testcontainers-provisioned Postgres, testify assertions).
package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/idempotency"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/store"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
	"github.com/nimeshk03/hpc-pay-settlement-engine/test/integration/testenv"
)

func newTestStore(t *testing.T) *store.Store {
	pool := testenv.SetupPostgresPool(t)
	return store.NewFromPool(pool)
}

func seedAccount(t *testing.T, s *store.Store, currency string, status models.AccountStatus, metadata map[string]any) models.Account {
	t.Helper()
	if metadata == nil {
		metadata = map[string]any{}
	}
	a := models.Account{
		ID:         uuid.New(),
		ExternalID: uuid.NewString(),
		Name:       "test account",
		Type:       models.AccountAsset,
		Status:     status,
		Currency:   currency,
		Metadata:   metadata,
	}
	_, err := s.Pool().Exec(context.Background(), `
		INSERT INTO accounts (id, external_id, name, type, status, currency, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.ExternalID, a.Name, a.Type, a.Status, a.Currency, a.Metadata)
	require.NoError(t, err)
	return a
}

func seedBalance(t *testing.T, s *store.Store, accountID uuid.UUID, currency string, available money.Amount) {
	t.Helper()
	_, err := s.Pool().Exec(context.Background(), `
		INSERT INTO account_balances (account_id, currency, available, pending, reserved, version)
		VALUES ($1, $2, $3, 0, 0, 1)
	`, accountID, currency, available)
	require.NoError(t, err)
}

func TestLedgerStore_PostingCommitsBalancesAndLedgerEntries(t *testing.T) {
	s := newTestStore(t)
	ledgerStore := store.NewLedgerStore(s)
	ctx := context.Background()

	source := seedAccount(t, s, "USD", models.AccountActive, nil)
	dest := seedAccount(t, s, "USD", models.AccountActive, nil)
	seedBalance(t, s, source.ID, "USD", money.NewFromInt(100))
	seedBalance(t, s, dest.ID, "USD", money.NewFromInt(0))

	ptx, err := ledgerStore.BeginPosting(ctx, source.ID, dest.ID, "USD")
	require.NoError(t, err)

	sourceBal, err := ptx.ReadBalance(ctx, source.ID, "USD")
	require.NoError(t, err)
	destBal, err := ptx.ReadBalance(ctx, dest.ID, "USD")
	require.NoError(t, err)
	assert.True(t, sourceBal.Available.Equal(money.NewFromInt(100)))

	txn := models.Transaction{
		ID: uuid.New(), ExternalID: uuid.NewString(), Type: models.TxPayment, Status: models.TxPending,
		SourceAccount: source.ID, DestAccount: dest.ID, Amount: money.NewFromInt(40), Currency: "USD",
		NetAmount: money.NewFromInt(40), IdempotencyKey: uuid.NewString(), Metadata: map[string]any{},
	}
	require.NoError(t, ptx.InsertTransaction(ctx, txn))

	sourceBal.Available = sourceBal.Available.Sub(txn.Amount)
	destBal.Available = destBal.Available.Add(txn.Amount)
	require.NoError(t, ptx.UpsertBalance(ctx, sourceBal, sourceBal.Version))
	require.NoError(t, ptx.UpsertBalance(ctx, destBal, destBal.Version))

	require.NoError(t, ptx.InsertLedgerEntry(ctx, models.LedgerEntry{
		ID: uuid.New(), TransactionID: txn.ID, AccountID: source.ID, EntryType: models.EntryDebit,
		Amount: txn.Amount, Currency: "USD", BalanceAfter: sourceBal.Available, EffectiveDate: time.Now(),
	}))
	require.NoError(t, ptx.InsertLedgerEntry(ctx, models.LedgerEntry{
		ID: uuid.New(), TransactionID: txn.ID, AccountID: dest.ID, EntryType: models.EntryCredit,
		Amount: txn.Amount, Currency: "USD", BalanceAfter: destBal.Available, EffectiveDate: time.Now(),
	}))

	txn.Status = models.TxSettled
	require.NoError(t, ptx.SettleTransaction(ctx, txn))
	require.NoError(t, ptx.Commit(ctx))

	reloaded, err := ledgerStore.GetAccount(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, reloaded.Status)

	var storedAvailable money.Amount
	var storedVersion int64
	err = s.Pool().QueryRow(ctx, `SELECT available, version FROM account_balances WHERE account_id = $1 AND currency = 'USD'`, source.ID).
		Scan(&storedAvailable, &storedVersion)
	require.NoError(t, err)
	assert.True(t, storedAvailable.Equal(money.NewFromInt(60)))
	assert.Equal(t, int64(2), storedVersion)

	var entryCount int
	err = s.Pool().QueryRow(ctx, `SELECT count(*) FROM ledger_entries WHERE transaction_id = $1`, txn.ID).Scan(&entryCount)
	require.NoError(t, err)
	assert.Equal(t, 2, entryCount)
}

func TestLedgerStore_UpsertBalance_VersionConflictRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := seedAccount(t, s, "USD", models.AccountActive, nil)
	seedBalance(t, s, account.ID, "USD", money.NewFromInt(10))

	ledgerStore := store.NewLedgerStore(s)
	ptx, err := ledgerStore.BeginPosting(ctx, account.ID, account.ID, "USD")
	require.NoError(t, err)
	defer ptx.Rollback(ctx)

	bal, err := ptx.ReadBalance(ctx, account.ID, "USD")
	require.NoError(t, err)

	err = ptx.UpsertBalance(ctx, bal, bal.Version+1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestLedgerStore_MarkReversed_RecordsMirrorInMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ledgerStore := store.NewLedgerStore(s)

	source := seedAccount(t, s, "USD", models.AccountActive, nil)
	dest := seedAccount(t, s, "USD", models.AccountActive, nil)
	seedBalance(t, s, source.ID, "USD", money.NewFromInt(50))
	seedBalance(t, s, dest.ID, "USD", money.NewFromInt(0))

	original := models.Transaction{
		ID: uuid.New(), ExternalID: uuid.NewString(), Type: models.TxPayment, Status: models.TxSettled,
		SourceAccount: source.ID, DestAccount: dest.ID, Amount: money.NewFromInt(10), Currency: "USD",
		NetAmount: money.NewFromInt(10), IdempotencyKey: uuid.NewString(), Metadata: map[string]any{},
	}
	_, err := s.Pool().Exec(ctx, `
		INSERT INTO transactions (id, external_id, type, status, source_account_id, destination_account_id, amount, currency, net_amount, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, original.ID, original.ExternalID, original.Type, original.Status, original.SourceAccount, original.DestAccount,
		original.Amount, original.Currency, original.NetAmount, original.IdempotencyKey, original.Metadata)
	require.NoError(t, err)

	mirrorID := uuid.New()
	require.NoError(t, ledgerStore.MarkReversed(ctx, original.ID, mirrorID))

	var status models.TransactionStatus
	var metadata map[string]any
	err = s.Pool().QueryRow(ctx, `SELECT status, metadata FROM transactions WHERE id = $1`, original.ID).Scan(&status, &metadata)
	require.NoError(t, err)
	assert.Equal(t, models.TxReversed, status)
	assert.Equal(t, mirrorID.String(), metadata["reversed_by"])
}

func TestBatchStore_UniquePendingBatchPerWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batchStore := store.NewBatchStore(s)

	settlementDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	cutOff := time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)

	b := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: cutOff, Currency: "USD", Metadata: map[string]any{}}
	require.NoError(t, batchStore.CreateBatch(ctx, b))

	second := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: cutOff, Currency: "USD", Metadata: map[string]any{}}
	err := batchStore.CreateBatch(ctx, second)
	assert.Error(t, err, "a second Pending batch for the same window must violate the partial unique index")

	found, ok, err := batchStore.FindPendingBatch(ctx, "USD", settlementDate, cutOff)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, found.ID)
}

func TestBatchStore_DuePendingBatches_OrderedByCutOff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batchStore := store.NewBatchStore(s)

	settlementDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	later := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: settlementDate.Add(2 * time.Hour), Currency: "EUR", Metadata: map[string]any{}}
	earlier := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: settlementDate.Add(1 * time.Hour), Currency: "GBP", Metadata: map[string]any{}}
	require.NoError(t, batchStore.CreateBatch(ctx, later))
	require.NoError(t, batchStore.CreateBatch(ctx, earlier))

	due, err := batchStore.DuePendingBatches(ctx, settlementDate.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)
}

func TestBatchStore_AssignTransactionUpdatesRunningTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batchStore := store.NewBatchStore(s)

	source := seedAccount(t, s, "USD", models.AccountActive, nil)
	dest := seedAccount(t, s, "USD", models.AccountActive, nil)

	settlementDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	b := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: settlementDate.Add(time.Hour), Currency: "USD", Metadata: map[string]any{}}
	require.NoError(t, batchStore.CreateBatch(ctx, b))

	txn := models.Transaction{
		ID: uuid.New(), ExternalID: uuid.NewString(), Type: models.TxPayment, Status: models.TxSettled,
		SourceAccount: source.ID, DestAccount: dest.ID, Amount: money.NewFromInt(25), Currency: "USD",
		NetAmount: money.NewFromInt(25), IdempotencyKey: uuid.NewString(), Metadata: map[string]any{},
	}
	_, err := s.Pool().Exec(ctx, `
		INSERT INTO transactions (id, external_id, type, status, source_account_id, destination_account_id, amount, currency, net_amount, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, txn.ID, txn.ExternalID, txn.Type, txn.Status, txn.SourceAccount, txn.DestAccount, txn.Amount, txn.Currency, txn.NetAmount, txn.IdempotencyKey, txn.Metadata)
	require.NoError(t, err)

	require.NoError(t, batchStore.AssignTransaction(ctx, b.ID, txn.ID, txn.Amount, money.Zero))

	members, err := batchStore.MemberTransactions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].Amount.Equal(money.NewFromInt(25)))

	updated, ok, err := batchStore.FindPendingBatch(ctx, "USD", settlementDate, b.CutOffTime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, updated.TotalTransactions)
	assert.True(t, updated.GrossAmount.Equal(money.NewFromInt(25)))
}

func TestIdempotencyStore_ClaimConflictAndComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idemStore := store.NewIdempotencyStore(s)

	key := uuid.NewString()
	record := models.IdempotencyRecord{
		ID: uuid.New(), Key: key, ClientID: "client-1", OperationType: "PAYMENT",
		Status: models.IdemProcessing, RequestHash: "hash-1",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, idemStore.Claim(ctx, record))

	duplicate := record
	duplicate.ID = uuid.New()
	err := idemStore.Claim(ctx, duplicate)
	assert.ErrorIs(t, err, idempotency.ErrKeyConflict)

	require.NoError(t, idemStore.Complete(ctx, key, models.IdemCompleted, []byte(`{"ok":true}`), ""))

	stored, ok, err := idemStore.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.IdemCompleted, stored.Status)
	assert.Equal(t, []byte(`{"ok":true}`), stored.ResponseData)
}

func TestNettingStore_InsertAndReadPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nettingStore := store.NewNettingStore(s)
	batchStore := store.NewBatchStore(s)

	a := seedAccount(t, s, "USD", models.AccountActive, nil)
	settlementDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	b := models.SettlementBatch{ID: uuid.New(), SettlementDate: settlementDate, CutOffTime: settlementDate.Add(time.Hour), Currency: "USD", Metadata: map[string]any{}}
	require.NoError(t, batchStore.CreateBatch(ctx, b))

	pos := models.NettingPosition{
		BatchID: b.ID, ParticipantID: a.ID, Currency: "USD",
		GrossReceivable: money.NewFromInt(100), GrossPayable: money.NewFromInt(40),
		NetPosition: money.NewFromInt(60), TransactionCount: 3,
	}
	require.NoError(t, nettingStore.InsertPositions(ctx, []models.NettingPosition{pos}))

	positions, err := nettingStore.PositionsForBatch(ctx, b.ID.String())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NetPosition.Equal(money.NewFromInt(60)))
}

