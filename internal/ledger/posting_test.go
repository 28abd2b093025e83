package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/config"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

// fakeTx is an in-memory stand-in for *store.PostingTx, tracking balances
// and recording whether Commit or Rollback was called.
type fakeTx struct {
	balances  map[string]models.AccountBalance
	entries   []models.LedgerEntry
	txns      map[uuid.UUID]models.Transaction
	committed bool
	rolledBk  bool
	failCommit error
}

func (f *fakeTx) ReadBalance(ctx context.Context, accountID uuid.UUID, currency string) (models.AccountBalance, error) {
	if b, ok := f.balances[accountID.String()+currency]; ok {
		return b, nil
	}
	return models.AccountBalance{AccountID: accountID, Currency: currency, Available: money.Zero}, nil
}

func (f *fakeTx) UpsertBalance(ctx context.Context, b models.AccountBalance, expectedVersion int64) error {
	f.balances[b.AccountID.String()+b.Currency] = b
	return nil
}

func (f *fakeTx) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeTx) SettleTransaction(ctx context.Context, tx models.Transaction) error {
	t := f.txns[tx.ID]
	t.Status = models.TxSettled
	f.txns[tx.ID] = t
	return nil
}

func (f *fakeTx) FailTransaction(ctx context.Context, txID uuid.UUID) error {
	t := f.txns[txID]
	t.Status = models.TxFailed
	f.txns[txID] = t
	return nil
}

func (f *fakeTx) InsertTransaction(ctx context.Context, t models.Transaction) error {
	f.txns[t.ID] = t
	return nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.failCommit != nil {
		return f.failCommit
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBk = true
	}
	return nil
}

// fakeBackend is an in-memory stand-in for engineStore.
type fakeBackend struct {
	accounts map[uuid.UUID]models.Account
	tx       *fakeTx
	reversed map[uuid.UUID]uuid.UUID
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts: map[uuid.UUID]models.Account{},
		tx: &fakeTx{
			balances: map[string]models.AccountBalance{},
			txns:     map[uuid.UUID]models.Transaction{},
		},
		reversed: map[uuid.UUID]uuid.UUID{},
	}
}

func (f *fakeBackend) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return models.Account{}, kernelerrors.UnknownAccount("no such account")
	}
	return a, nil
}

func (f *fakeBackend) BeginPosting(ctx context.Context, a, b uuid.UUID, currency string) (postingTx, error) {
	return f.tx, nil
}

func (f *fakeBackend) MarkReversed(ctx context.Context, originalID, mirrorID uuid.UUID) error {
	f.reversed[originalID] = mirrorID
	return nil
}

func newTestEngine(backend *fakeBackend) *Engine {
	return &Engine{
		ledger: backend,
		sink:   events.NewNoOpSink(),
		retry:  config.PostingRetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond},
		clock:  time.Now,
	}
}

func TestPost_SettlesAndMovesBalances(t *testing.T) {
	backend := newFakeBackend()
	source := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	dest := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	backend.accounts[source.ID] = source
	backend.accounts[dest.ID] = dest
	backend.tx.balances[source.ID.String()+"USD"] = models.AccountBalance{AccountID: source.ID, Currency: "USD", Available: money.NewFromInt(100)}

	engine := newTestEngine(backend)
	req := PostingRequest{
		Type: models.TxPayment, SourceAccount: source, DestAccount: dest, Amount: money.NewFromInt(40), Currency: "USD",
		ExternalID: "ext-1", IdempotencyKey: "idem-1",
	}

	txn, err := engine.Post(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.TxSettled, txn.Status)
	assert.NotNil(t, txn.SettledAt)

	assert.Equal(t, "60.0000", backend.tx.balances[source.ID.String()+"USD"].Available.String())
	assert.Equal(t, "40.0000", backend.tx.balances[dest.ID.String()+"USD"].Available.String())
	assert.Len(t, backend.tx.entries, 2)
	assert.True(t, backend.tx.committed)
}

func TestPost_ValidationFailureFailsTransactionWithoutRetry(t *testing.T) {
	backend := newFakeBackend()
	source := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	dest := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	backend.accounts[source.ID] = source
	backend.accounts[dest.ID] = dest

	engine := newTestEngine(backend)
	req := PostingRequest{
		Type: models.TxPayment, SourceAccount: source, DestAccount: dest, Amount: money.NewFromInt(500), Currency: "USD",
		ExternalID: "ext-2", IdempotencyKey: "idem-2",
	}

	_, err := engine.Post(context.Background(), req)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, "InsufficientFunds"))

	for _, txn := range backend.tx.txns {
		assert.Equal(t, models.TxFailed, txn.Status)
	}
}

func TestReverse_BuildsMirrorAndMarksOriginal(t *testing.T) {
	backend := newFakeBackend()
	source := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	dest := models.Account{ID: uuid.New(), Type: models.AccountAsset, Status: models.AccountActive, Currency: "USD"}
	backend.accounts[source.ID] = source
	backend.accounts[dest.ID] = dest
	backend.tx.balances[dest.ID.String()+"USD"] = models.AccountBalance{AccountID: dest.ID, Currency: "USD", Available: money.NewFromInt(200)}

	engine := newTestEngine(backend)
	now := time.Now()
	original := models.Transaction{
		ID: uuid.New(), Status: models.TxSettled, Type: models.TxPayment,
		SourceAccount: source.ID, DestAccount: dest.ID,
		Amount: money.NewFromInt(40), Currency: "USD", CreatedAt: now,
	}

	mirror, err := engine.Reverse(context.Background(), original)
	require.NoError(t, err)
	assert.Equal(t, dest.ID, mirror.SourceAccount)
	assert.Equal(t, source.ID, mirror.DestAccount)
	assert.Equal(t, backend.reversed[original.ID], mirror.ID)
}

func TestReverse_RejectsDoubleReversal(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(backend)
	original := models.Transaction{ID: uuid.New(), Status: models.TxReversed}

	_, err := engine.Reverse(context.Background(), original)
	assert.True(t, kernelerrors.Is(err, "DoubleReversal"))
}

func TestReverse_RejectsNonSettled(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(backend)
	original := models.Transaction{ID: uuid.New(), Status: models.TxPending}

	_, err := engine.Reverse(context.Background(), original)
	assert.True(t, kernelerrors.Is(err, "IllegalStateTransition"))
}
