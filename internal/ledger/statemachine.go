// Package ledger is the Double-Entry Posting Engine and the transaction
// state machine it drives, grounded in the teacher's account mutation
// guard (a single mutex serializing balance changes) generalized to the
// full validate → lock → post → commit protocol of spec.md §4.2.
package ledger

import (
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
)

// transitions enumerates every legal Transaction status change. The
// teacher has no explicit state table — this is new code in its idiom:
// small, pure, table-driven.
var transitions = map[models.TransactionStatus]map[models.TransactionStatus]bool{
	models.TxPending: {
		models.TxSettled: true,
		models.TxFailed:  true,
	},
	models.TxSettled: {
		models.TxReversed: true,
	},
}

// CheckTransition reports whether from→to is a permitted state change,
// returning IllegalStateTransition otherwise.
func CheckTransition(from, to models.TransactionStatus) error {
	if transitions[from][to] {
		return nil
	}
	return kernelerrors.IllegalStateTransition(
		"transaction cannot move from " + string(from) + " to " + string(to))
}
