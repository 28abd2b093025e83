package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/telemetry"
)

// Service runs the two-tier check-and-claim protocol from spec.md §4.1:
// cache first, durable store as arbiter and tiebreaker on disagreement.
type Service struct {
	cache *Cache
	store Store
	ttl   time.Duration

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewService wires a cache and a durable store behind the fixed TTL the
// caller configured (config.IdempotencyConfig.TTL).
func NewService(cache *Cache, store Store, ttl time.Duration) *Service {
	return &Service{
		cache:        cache,
		store:        store,
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		pollTimeout:  2 * time.Second,
	}
}

// Claim is the outcome of CheckAndClaim: either the caller must perform the
// operation and later call Complete/Fail (IsNew), or a prior outcome is
// already available (Record holds it).
type Claim struct {
	Record models.IdempotencyRecord
	IsNew  bool
}

// CheckAndClaim implements steps 1–3 of the protocol. requestHash is the
// fingerprint computed from Fingerprint(); key is either that same hash or
// a caller-supplied explicit key.
func (s *Service) CheckAndClaim(ctx context.Context, key, clientID, operationType, requestHash string) (Claim, error) {
	if cached, ok := s.cache.Get(key); ok {
		if err := matchesHash(cached, requestHash); err != nil {
			return Claim{}, err
		}
		if cached.Status != models.IdemProcessing {
			telemetry.RecordIdempotencyOutcome("cache_hit")
			return Claim{Record: cached}, nil
		}
		return s.awaitCompletion(ctx, key, requestHash)
	}

	record := models.IdempotencyRecord{
		ID:            uuid.New(),
		Key:           key,
		ClientID:      clientID,
		OperationType: operationType,
		Status:        models.IdemProcessing,
		RequestHash:   requestHash,
		CreatedAt:     timeNow(),
		ExpiresAt:     timeNow().Add(s.ttl),
	}

	err := s.store.Claim(ctx, record)
	if err == nil {
		s.cache.Set(record, s.ttl)
		telemetry.RecordIdempotencyOutcome("new_claim")
		return Claim{Record: record, IsNew: true}, nil
	}

	if !errors.Is(err, ErrKeyConflict) {
		return Claim{}, kernelerrors.StoreUnavailable(err)
	}

	// Lost the race: the durable store is authoritative, fall back to it.
	existing, ok, getErr := s.store.Get(ctx, key)
	if getErr != nil {
		return Claim{}, kernelerrors.StoreUnavailable(getErr)
	}
	if !ok {
		// Claimant completed and was reaped between our Claim and this Get;
		// treat as a fresh conflict rather than loop forever.
		return Claim{}, kernelerrors.TransientConflict("idempotency record vanished after claim conflict")
	}
	if matchErr := matchesHash(existing, requestHash); matchErr != nil {
		return Claim{}, matchErr
	}

	if existing.Status == models.IdemProcessing {
		return s.awaitCompletion(ctx, key, requestHash)
	}

	s.cache.Set(existing, s.ttl)
	telemetry.RecordIdempotencyOutcome("store_hit")
	return Claim{Record: existing}, nil
}

// awaitCompletion polls the durable store for a bounded interval while
// another writer finishes the claimed operation, per step 1's "bounded
// interval polling" behaviour.
func (s *Service) awaitCompletion(ctx context.Context, key, requestHash string) (Claim, error) {
	deadline := timeNow().Add(s.pollTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Claim{}, kernelerrors.Timeout("context cancelled while awaiting idempotent completion")
		case <-ticker.C:
			record, ok, err := s.store.Get(ctx, key)
			if err != nil {
				return Claim{}, kernelerrors.StoreUnavailable(err)
			}
			if ok {
				if matchErr := matchesHash(record, requestHash); matchErr != nil {
					return Claim{}, matchErr
				}
				if record.Status != models.IdemProcessing {
					s.cache.Set(record, s.ttl)
					telemetry.RecordIdempotencyOutcome("store_hit")
					return Claim{Record: record}, nil
				}
			}
			if timeNow().After(deadline) {
				telemetry.RecordIdempotencyOutcome("in_progress_timeout")
				return Claim{}, kernelerrors.InProgress("operation still in progress")
			}
		}
	}
}

// Complete records a terminal outcome in both tiers. The durable store is
// written first; the cache mirror only happens after that succeeds, so a
// crash between the two leaves the durable store (authoritative) correct.
func (s *Service) Complete(ctx context.Context, key string, status models.IdempotencyStatus, response []byte, errMessage string) error {
	if err := s.store.Complete(ctx, key, status, response, errMessage); err != nil {
		logging.Error("failed to record idempotency completion", err, map[string]any{"key": key})
		return kernelerrors.StoreUnavailable(err)
	}

	if record, ok, err := s.store.Get(ctx, key); err == nil && ok {
		s.cache.Set(record, s.ttl)
	} else {
		// Don't let a cache-mirror read failure mask the committed
		// completion; just drop the stale Processing entry so the next
		// reader falls through to the durable store.
		s.cache.Delete(key)
	}
	return nil
}

func matchesHash(record models.IdempotencyRecord, requestHash string) error {
	if record.RequestHash != requestHash {
		return kernelerrors.IdempotencyKeyConflict("idempotency key reused with a different request body")
	}
	return nil
}
