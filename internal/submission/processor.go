// Package submission composes the Idempotency Layer, the Double-Entry
// Posting Engine and the Batch Service into the single control-flow path
// spec.md §2 names: Idempotency → Validation → Posting → State update →
// (batch) assignment. The teacher composed the equivalent steps (validate,
// call the atomic operation, record metrics, publish the event) in its
// internal/api/handlers.MakeTransferHandler, deps wired once at
// construction time and the steps run in a fixed sequence; Processor keeps
// that shape with the HTTP binding stripped out, since nothing here is an
// HTTP handler.
package submission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/batch"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/idempotency"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/ledger"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
)

// Request is a not-yet-claimed posting submission. IdempotencyKey may be
// left empty, in which case the deterministic fingerprint over
// (ClientID, OperationType, Posting, window) is used as the key.
type Request struct {
	ClientID       string
	OperationType  string
	IdempotencyKey string
	Posting        ledger.PostingRequest
}

// Processor drives one submitted transaction through claim, posting, and
// batch assignment. It holds no state of its own beyond its collaborators.
type Processor struct {
	idempotency *idempotency.Service
	posting     *ledger.Engine
	batch       *batch.Service
	window      time.Duration
	clock       func() time.Time
}

// NewProcessor wires the three subsystems together. window is the
// fingerprint bucket size (config.IdempotencyConfig.FingerprintWindow).
func NewProcessor(idem *idempotency.Service, posting *ledger.Engine, batchSvc *batch.Service, window time.Duration) *Processor {
	return &Processor{idempotency: idem, posting: posting, batch: batchSvc, window: window, clock: time.Now}
}

// Submit runs the full pipeline: claim (or replay) the idempotency key,
// post the transaction, record the terminal outcome, and — once the
// posting settles — assign the transaction to its settlement batch, per
// spec.md §4.4's "a transaction becomes eligible for assignment the
// moment it reaches Settled."
func (p *Processor) Submit(ctx context.Context, req Request) (models.Transaction, error) {
	bucket := windowBucket(p.clock(), p.window)
	requestHash, err := idempotency.Fingerprint(req.ClientID, req.OperationType, req.Posting, bucket)
	if err != nil {
		return models.Transaction{}, kernelerrors.InvalidAmount("failed to fingerprint request: " + err.Error())
	}

	key := req.IdempotencyKey
	if key == "" {
		key = requestHash
	}

	claim, err := p.idempotency.CheckAndClaim(ctx, key, req.ClientID, req.OperationType, requestHash)
	if err != nil {
		return models.Transaction{}, err
	}
	if !claim.IsNew {
		return replay(claim.Record)
	}

	req.Posting.ExternalID = key
	req.Posting.IdempotencyKey = key

	txn, postErr := p.posting.Post(ctx, req.Posting)
	if postErr != nil {
		if completeErr := p.idempotency.Complete(ctx, key, models.IdemFailed, nil, postErr.Error()); completeErr != nil {
			logging.Error("failed to record idempotency failure", completeErr, map[string]any{"key": key})
		}
		return models.Transaction{}, postErr
	}

	respData, marshalErr := json.Marshal(txn)
	if marshalErr != nil {
		logging.Error("failed to marshal settled transaction", marshalErr, map[string]any{"transaction_id": txn.ID.String()})
	}
	if completeErr := p.idempotency.Complete(ctx, key, models.IdemCompleted, respData, ""); completeErr != nil {
		logging.Error("failed to record idempotency completion", completeErr, map[string]any{"key": key})
	}

	if txn.Status == models.TxSettled {
		if assignErr := p.batch.AssignSettled(ctx, txn); assignErr != nil {
			logging.Error("failed to assign settled transaction to a batch", assignErr, map[string]any{"transaction_id": txn.ID.String()})
		}
	}

	return txn, nil
}

// replay reconstructs the outcome CheckAndClaim already found recorded
// against this key, rather than performing the operation a second time.
func replay(record models.IdempotencyRecord) (models.Transaction, error) {
	switch record.Status {
	case models.IdemCompleted:
		var txn models.Transaction
		if err := json.Unmarshal(record.ResponseData, &txn); err != nil {
			return models.Transaction{}, kernelerrors.StoreUnavailable(err)
		}
		return txn, nil
	case models.IdemFailed:
		return models.Transaction{}, kernelerrors.PreviousFailure(record.ErrorMessage)
	default:
		return models.Transaction{}, kernelerrors.InProgress("operation already in progress")
	}
}

// windowBucket floors now to the configured fingerprint window so requests
// in the same bucket collide and requests in different buckets don't. A
// non-positive window disables bucketing (every request gets its own
// bucket), which only matters for callers that always supply an explicit
// IdempotencyKey.
func windowBucket(now time.Time, window time.Duration) int64 {
	if window <= 0 {
		return now.UnixNano()
	}
	return now.Unix() / int64(window.Seconds())
}
