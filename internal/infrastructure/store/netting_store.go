package store

import (
	"context"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
)

// NettingStore persists computed netting positions. Rows are never
// mutated once written.
type NettingStore struct {
	store *Store
}

func NewNettingStore(s *Store) *NettingStore {
	return &NettingStore{store: s}
}

// InsertPositions writes every position for a batch's netting computation
// inside a single transaction, so a partial write never outlives the
// batch's own Processing→Completed/Failed transition.
func (s *NettingStore) InsertPositions(ctx context.Context, positions []models.NettingPosition) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.store.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO netting_positions
				(batch_id, participant_id, currency, gross_receivable, gross_payable, net_position, transaction_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, p.BatchID, p.ParticipantID, p.Currency, p.GrossReceivable, p.GrossPayable, p.NetPosition, p.TransactionCount); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// PositionsForBatch returns every netting position recorded for a batch.
func (s *NettingStore) PositionsForBatch(ctx context.Context, batchID string) ([]models.NettingPosition, error) {
	rows, err := s.store.pool.Query(ctx, `
		SELECT batch_id, participant_id, currency, gross_receivable, gross_payable, net_position, transaction_count, created_at
		FROM netting_positions WHERE batch_id = $1
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.NettingPosition
	for rows.Next() {
		var p models.NettingPosition
		if err := rows.Scan(&p.BatchID, &p.ParticipantID, &p.Currency, &p.GrossReceivable, &p.GrossPayable, &p.NetPosition, &p.TransactionCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
