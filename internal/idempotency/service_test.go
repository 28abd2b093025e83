package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
)

// fakeStore is an in-memory Store used to drive the service's protocol
// branches without a real Postgres connection.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]models.IdempotencyRecord
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]models.IdempotencyRecord{}}
}

func (f *fakeStore) Claim(ctx context.Context, record models.IdempotencyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	if _, exists := f.records[record.Key]; exists {
		return ErrKeyConflict
	}
	f.records[record.Key] = record
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (models.IdempotencyRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key]
	return r, ok, nil
}

func (f *fakeStore) Complete(ctx context.Context, key string, status models.IdempotencyStatus, response []byte, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key]
	if !ok {
		return nil
	}
	r.Status = status
	r.ResponseData = response
	r.ErrorMessage = errMessage
	f.records[key] = r
	return nil
}

func TestCheckAndClaim_NewClaim(t *testing.T) {
	store := newFakeStore()
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	defer svc.cache.Close()

	claim, err := svc.CheckAndClaim(context.Background(), "k1", "client", "PAYMENT", "hash1")
	require.NoError(t, err)
	assert.True(t, claim.IsNew)
	assert.Equal(t, models.IdemProcessing, claim.Record.Status)
}

func TestCheckAndClaim_CacheHitCompleted(t *testing.T) {
	store := newFakeStore()
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	defer svc.cache.Close()

	completed := models.IdempotencyRecord{Key: "k2", RequestHash: "hash2", Status: models.IdemCompleted, ResponseData: []byte(`{"ok":true}`)}
	svc.cache.Set(completed, time.Minute)

	claim, err := svc.CheckAndClaim(context.Background(), "k2", "client", "PAYMENT", "hash2")
	require.NoError(t, err)
	assert.False(t, claim.IsNew)
	assert.Equal(t, models.IdemCompleted, claim.Record.Status)
}

func TestCheckAndClaim_HashMismatchIsConflict(t *testing.T) {
	store := newFakeStore()
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	defer svc.cache.Close()

	svc.cache.Set(models.IdempotencyRecord{Key: "k3", RequestHash: "hash-a", Status: models.IdemCompleted}, time.Minute)

	_, err := svc.CheckAndClaim(context.Background(), "k3", "client", "PAYMENT", "hash-b")
	assert.True(t, kernelerrors.Is(err, "IdempotencyKeyConflict"))
}

func TestCheckAndClaim_ConflictFallsBackToDurableStore(t *testing.T) {
	store := newFakeStore()
	store.records["k4"] = models.IdempotencyRecord{Key: "k4", RequestHash: "hash4", Status: models.IdemCompleted}
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	defer svc.cache.Close()

	// Cache is cold (a different process claimed it) but the store already
	// has the terminal outcome; CheckAndClaim's own Claim will conflict and
	// it must fall back to the durable Get.
	claim, err := svc.CheckAndClaim(context.Background(), "k4", "client", "PAYMENT", "hash4")
	require.NoError(t, err)
	assert.False(t, claim.IsNew)
	assert.Equal(t, models.IdemCompleted, claim.Record.Status)
}

func TestComplete_WritesStoreThenMirrorsCache(t *testing.T) {
	store := newFakeStore()
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	defer svc.cache.Close()

	claim, err := svc.CheckAndClaim(context.Background(), "k5", "client", "PAYMENT", "hash5")
	require.NoError(t, err)
	require.True(t, claim.IsNew)

	require.NoError(t, svc.Complete(context.Background(), "k5", models.IdemCompleted, []byte(`{"ok":true}`), ""))

	cached, ok := svc.cache.Get("k5")
	require.True(t, ok)
	assert.Equal(t, models.IdemCompleted, cached.Status)

	stored, ok, err := store.Get(context.Background(), "k5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.IdemCompleted, stored.Status)
}

func TestAwaitCompletion_TimesOutWhenStillProcessing(t *testing.T) {
	store := newFakeStore()
	store.records["k6"] = models.IdempotencyRecord{Key: "k6", RequestHash: "hash6", Status: models.IdemProcessing}
	svc := NewService(NewCache(time.Hour), store, time.Minute)
	svc.pollInterval = time.Millisecond
	svc.pollTimeout = 20 * time.Millisecond
	defer svc.cache.Close()

	svc.cache.Set(store.records["k6"], time.Minute)

	_, err := svc.CheckAndClaim(context.Background(), "k6", "client", "PAYMENT", "hash6")
	assert.True(t, kernelerrors.Is(err, "InProgress"))
}
