package ledger

import (
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
	kernelerrors "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/errors"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

var permittedTypes = map[models.TransactionType]bool{
	models.TxPayment:    true,
	models.TxRefund:     true,
	models.TxChargeback: true,
	models.TxTransfer:   true,
	models.TxFee:        true,
}

// PostingRequest is a not-yet-validated posting request, the input to
// Validate and then Engine.Post.
type PostingRequest struct {
	Type           models.TransactionType
	SourceAccount  models.Account
	DestAccount    models.Account
	Amount         money.Amount
	FeeAmount      money.Amount
	Currency       string
	ExternalID     string
	IdempotencyKey string
}

// Validate runs the short-circuiting pipeline from spec.md §4.2: field
// validation, account existence/status, currency concordance, sufficient
// funds. Balance sufficiency uses sourceBalance as passed by the caller;
// Engine.Post calls Validate once per attempt, with the balance re-read
// after the rows are locked (step 2).
func Validate(req PostingRequest, sourceBalance models.AccountBalance) error {
	if !permittedTypes[req.Type] {
		return kernelerrors.InvalidAmount("unsupported transaction type: " + string(req.Type))
	}
	if req.ExternalID == "" {
		return kernelerrors.InvalidAmount("external_id is required")
	}
	if req.IdempotencyKey == "" {
		return kernelerrors.InvalidAmount("idempotency_key is required")
	}
	if !req.Amount.IsPositive() {
		return kernelerrors.InvalidAmount("amount must be greater than zero")
	}
	if !req.Amount.WithinScale() {
		return kernelerrors.InvalidAmount("amount exceeds the maximum representable precision")
	}
	if len(req.Currency) != 3 {
		return kernelerrors.CurrencyMismatch("currency must be a 3-letter ISO-4217 code")
	}
	if req.SourceAccount.ID == req.DestAccount.ID {
		return kernelerrors.InvalidAmount("source and destination accounts must differ")
	}

	if req.SourceAccount.Status == models.AccountClosed || req.DestAccount.Status == models.AccountClosed {
		return kernelerrors.AccountInactive("closed accounts cannot participate in postings")
	}
	if req.SourceAccount.Status == models.AccountFrozen && !allowedWhileFrozen(req.Type) {
		return kernelerrors.AccountInactive("frozen source account rejects " + string(req.Type))
	}

	if req.SourceAccount.Currency != req.Currency || req.DestAccount.Currency != req.Currency {
		return kernelerrors.CurrencyMismatch("transaction currency must match both account currencies")
	}

	if req.SourceAccount.Type == models.AccountAsset && !req.SourceAccount.AllowsOverdraft() {
		remaining := sourceBalance.Available.Sub(req.Amount)
		if remaining.IsNegative() {
			return kernelerrors.InsufficientFunds("available balance would go negative")
		}
	}

	return nil
}

// allowedWhileFrozen implements the policy carve-out in spec.md §4.2 step
// 2: Frozen accounts reject Payment/Transfer but allow Fee and Chargeback
// reversal.
func allowedWhileFrozen(t models.TransactionType) bool {
	return t == models.TxFee || t == models.TxChargeback
}
