// Package batch is the Batch Service & Scheduler: it groups settled
// transactions into settlement batches per the configured window, drives
// the batch state machine through cut-off processing, and invokes the
// Netting Calculator. The teacher has no batching subsystem; the
// scheduler loop follows its events.Broker idiom (state owned by a single
// goroutine, driven by channels) and batch persistence follows the same
// pgx-transaction idiom as the posting engine.
package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/config"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/store"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/netting"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/telemetry"
)

// batchBackend is the durable-store surface the batch service needs.
// *store.BatchStore satisfies it as-is; unit tests substitute an
// in-memory fake since store.BatchStore is a concrete pgx-backed type.
type batchBackend interface {
	FindPendingBatch(ctx context.Context, currency string, settlementDate, cutOffTime time.Time) (models.SettlementBatch, bool, error)
	CreateBatch(ctx context.Context, b models.SettlementBatch) error
	AssignTransaction(ctx context.Context, batchID, transactionID uuid.UUID, amount, fee money.Amount) error
	DuePendingBatches(ctx context.Context, asOf time.Time) ([]models.SettlementBatch, error)
	TransitionBatch(ctx context.Context, batchID uuid.UUID, to models.BatchStatus) error
	SetNetAmount(ctx context.Context, batchID uuid.UUID, netAmount money.Amount) error
	MemberTransactions(ctx context.Context, batchID uuid.UUID) ([]models.Transaction, error)
}

// nettingBackend is the durable-store surface for persisted netting
// positions. *store.NettingStore satisfies it as-is.
type nettingBackend interface {
	InsertPositions(ctx context.Context, positions []models.NettingPosition) error
}

// Service owns batch creation, transaction assignment, and the
// cut-off-driven processing pipeline.
type Service struct {
	batches batchBackend
	netting nettingBackend
	sink    events.Sink
	window  config.SettlementConfig
	mode    config.NettingMode
	clock   func() time.Time
}

func NewService(batches *store.BatchStore, netStore *store.NettingStore, sink events.Sink, settlement config.SettlementConfig, nettingCfg config.NettingConfig) *Service {
	return &Service{
		batches: batches,
		netting: netStore,
		sink:    sink,
		window:  settlement,
		mode:    nettingCfg.Mode,
		clock:   time.Now,
	}
}

// AssignSettled assigns a just-settled transaction to the unique Pending
// batch matching (currency, settlement_date, window), creating one if
// necessary, per spec.md §4.4's assignment rule.
func (s *Service) AssignSettled(ctx context.Context, txn models.Transaction) error {
	settlementDate, cutOff := s.windowFor(txn.CreatedAt)

	existing, ok, err := s.batches.FindPendingBatch(ctx, txn.Currency, settlementDate, cutOff)
	if err != nil {
		return kernelerrors.StoreUnavailable(err)
	}

	var batchID uuid.UUID
	if ok {
		batchID = existing.ID
	} else {
		newBatch := models.SettlementBatch{
			ID:             uuid.New(),
			Status:         models.BatchPending,
			SettlementDate: settlementDate,
			CutOffTime:     cutOff,
			Currency:       txn.Currency,
			Metadata:       map[string]any{},
		}
		if err := s.batches.CreateBatch(ctx, newBatch); err != nil {
			// Another writer created the matching batch concurrently;
			// re-fetch rather than fail the assignment.
			existing, ok, findErr := s.batches.FindPendingBatch(ctx, txn.Currency, settlementDate, cutOff)
			if findErr != nil || !ok {
				return kernelerrors.StoreUnavailable(err)
			}
			batchID = existing.ID
		} else {
			batchID = newBatch.ID
		}
	}

	if err := s.batches.AssignTransaction(ctx, batchID, txn.ID, txn.Amount, txn.FeeAmount); err != nil {
		return kernelerrors.StoreUnavailable(err)
	}

	s.notifyBatch(batchID, models.BatchPending)
	return nil
}

// windowFor computes the (settlement_date, cut_off_time) pair a
// transaction belongs to given the configured settlement window. A
// transaction timestamped exactly on a boundary belongs to the window
// closing at that instant, not the one opening there, per spec.md §8.
func (s *Service) windowFor(at time.Time) (settlementDate, cutOff time.Time) {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

	switch s.window.Window {
	case config.WindowRealTime:
		return day, at
	case config.WindowMicroBatch:
		mins := s.window.MicroBatchMins
		if mins <= 0 {
			mins = 5
		}
		dur := time.Duration(mins) * time.Minute
		bucket := at.Truncate(dur)
		if bucket.Equal(at) {
			bucket = bucket.Add(-dur)
		}
		return day, bucket.Add(dur)
	case config.WindowDaily:
		if at.Equal(day) {
			return day.Add(-24 * time.Hour), day
		}
		return day, day.Add(24 * time.Hour)
	default: // WindowHourly
		hour := time.Date(at.Year(), at.Month(), at.Day(), at.Hour(), 0, 0, 0, time.UTC)
		if hour.Equal(at) {
			hour = hour.Add(-time.Hour)
		}
		return day, hour.Add(time.Hour)
	}
}

// ProcessDue drives every Pending batch whose cut-off has passed through
// Processing → netting → Completed/Failed, in cut_off_time order.
func (s *Service) ProcessDue(ctx context.Context) error {
	due, err := s.batches.DuePendingBatches(ctx, s.clock())
	if err != nil {
		return kernelerrors.StoreUnavailable(err)
	}

	for _, b := range due {
		if err := s.process(ctx, b); err != nil {
			logging.Error("batch processing failed", err, map[string]any{"batch_id": b.ID.String()})
		}
	}
	return nil
}

func (s *Service) process(ctx context.Context, b models.SettlementBatch) error {
	if err := s.batches.TransitionBatch(ctx, b.ID, models.BatchProcessing); err != nil {
		return kernelerrors.StoreUnavailable(err)
	}
	telemetry.RecordBatchTransition(string(models.BatchPending), string(models.BatchProcessing))
	s.notifyBatch(b.ID, models.BatchProcessing)

	if err := s.settle(ctx, b); err != nil {
		s.batches.TransitionBatch(ctx, b.ID, models.BatchFailed)
		telemetry.RecordBatchTransition(string(models.BatchProcessing), string(models.BatchFailed))
		s.notifyBatch(b.ID, models.BatchFailed)
		return err
	}

	if err := s.batches.TransitionBatch(ctx, b.ID, models.BatchCompleted); err != nil {
		return kernelerrors.StoreUnavailable(err)
	}
	telemetry.RecordBatchTransition(string(models.BatchProcessing), string(models.BatchCompleted))
	s.notifyBatch(b.ID, models.BatchCompleted)
	return nil
}

func (s *Service) settle(ctx context.Context, b models.SettlementBatch) error {
	members, err := s.batches.MemberTransactions(ctx, b.ID)
	if err != nil {
		return kernelerrors.StoreUnavailable(err)
	}

	movements := make([]netting.Movement, 0, len(members))
	for _, m := range members {
		movements = append(movements, netting.Movement{
			Source: m.SourceAccount, Dest: m.DestAccount, Amount: m.Amount, Currency: m.Currency,
		})
	}

	var report netting.Report
	reportMode := string(s.mode)
	switch s.mode {
	case config.NettingBilateral:
		report = netting.Bilateral(b.ID, b.Currency, movements)
	case config.NettingMultilateral:
		report = netting.Multilateral(b.ID, b.Currency, movements)
	default: // Both: positions are inherently a multilateral concept, so
		// multilateral drives persistence and the batch's net_amount; the
		// bilateral pass runs alongside purely to report its own
		// efficiency for comparison.
		report = netting.Multilateral(b.ID, b.Currency, movements)
		reportMode = string(config.NettingMultilateral)
		bilateral := netting.Bilateral(b.ID, b.Currency, movements)
		telemetry.RecordNettingEfficiency(b.Currency, string(config.NettingBilateral), bilateral.Efficiency)
	}

	if len(report.Positions) > 0 {
		if err := s.netting.InsertPositions(ctx, report.Positions); err != nil {
			return kernelerrors.StoreUnavailable(err)
		}
	}

	netVolume := money.Sum(instructionAmounts(report)...)
	if err := s.batches.SetNetAmount(ctx, b.ID, netVolume); err != nil {
		return kernelerrors.StoreUnavailable(err)
	}

	telemetry.RecordNettingEfficiency(b.Currency, reportMode, report.Efficiency)

	if s.sink != nil {
		s.sink.PublishNetting(events.NettingEvent{
			BatchID: b.ID, Currency: b.Currency, ParticipantCount: len(report.Positions), Timestamp: s.clock(),
		})
		s.sink.PublishSettlement(events.SettlementEvent{
			BatchID: b.ID, Currency: b.Currency, NetAmount: netVolume.String(), Timestamp: s.clock(),
		})
	}

	return nil
}

func instructionAmounts(r netting.Report) []money.Amount {
	amounts := make([]money.Amount, 0, len(r.Instructions))
	for _, in := range r.Instructions {
		amounts = append(amounts, in.Amount)
	}
	return amounts
}

func (s *Service) notifyBatch(batchID uuid.UUID, status models.BatchStatus) {
	if s.sink == nil {
		return
	}
	if err := s.sink.PublishBatch(events.BatchEvent{BatchID: batchID, Status: string(status), Timestamp: s.clock()}); err != nil {
		logging.Warn("failed to publish batch event", map[string]any{"batch_id": batchID.String(), "error": err.Error()})
	}
}
