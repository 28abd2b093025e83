// Package models holds the ledger kernel's core entities, as described in
// the data model: accounts, balances, transactions, ledger entries,
// settlement batches, netting positions, and idempotency records.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/money"
)

type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// Account is a ledger participant. Once Closed it is terminal.
type Account struct {
	ID         uuid.UUID
	ExternalID string
	Name       string
	Type       AccountType
	Status     AccountStatus
	Currency   string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AllowsOverdraft reports whether the account's metadata explicitly permits
// its available balance to go negative.
func (a Account) AllowsOverdraft() bool {
	v, ok := a.Metadata["overdraft"]
	if !ok {
		return false
	}
	allowed, _ := v.(bool)
	return allowed
}

// AccountBalance is keyed by (account_id, currency); version increases
// monotonically on every update (optimistic concurrency).
type AccountBalance struct {
	AccountID   uuid.UUID
	Currency    string
	Available   money.Amount
	Pending     money.Amount
	Reserved    money.Amount
	Version     int64
	LastUpdated time.Time
}

type TransactionType string

const (
	TxPayment    TransactionType = "PAYMENT"
	TxRefund     TransactionType = "REFUND"
	TxChargeback TransactionType = "CHARGEBACK"
	TxTransfer   TransactionType = "TRANSFER"
	TxFee        TransactionType = "FEE"
)

type TransactionStatus string

const (
	TxPending  TransactionStatus = "PENDING"
	TxSettled  TransactionStatus = "SETTLED"
	TxFailed   TransactionStatus = "FAILED"
	TxReversed TransactionStatus = "REVERSED"
)

// Transaction is the unit of work the posting engine settles. Immutable
// after Settled except for its Status and BatchID.
type Transaction struct {
	ID              uuid.UUID
	ExternalID      string
	Type            TransactionType
	Status          TransactionStatus
	SourceAccount   uuid.UUID
	DestAccount     uuid.UUID
	Amount          money.Amount
	Currency        string
	FeeAmount       money.Amount
	NetAmount       money.Amount
	BatchID         *uuid.UUID
	IdempotencyKey  string
	Metadata        map[string]any
	CreatedAt       time.Time
	SettledAt       *time.Time
}

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is an append-only posting against a single account.
type LedgerEntry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	EntryType     EntryType
	Amount        money.Amount
	Currency      string
	BalanceAfter  money.Amount
	EffectiveDate time.Time
	CreatedAt     time.Time
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchFailed     BatchStatus = "FAILED"
)

// SettlementBatch groups settled transactions sharing a currency,
// settlement date and window, until its cut-off is reached.
type SettlementBatch struct {
	ID               uuid.UUID
	Status           BatchStatus
	SettlementDate   time.Time
	CutOffTime       time.Time
	TotalTransactions int
	GrossAmount      money.Amount
	NetAmount        money.Amount
	FeeAmount        money.Amount
	Currency         string
	Metadata         map[string]any
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// NettingPosition is a per-(batch, participant, currency) net result. Never
// mutated once written.
type NettingPosition struct {
	BatchID          uuid.UUID
	ParticipantID    uuid.UUID
	Currency         string
	GrossReceivable  money.Amount
	GrossPayable     money.Amount
	NetPosition      money.Amount
	TransactionCount int
	CreatedAt        time.Time
}

type IdempotencyStatus string

const (
	IdemProcessing IdempotencyStatus = "PROCESSING"
	IdemCompleted  IdempotencyStatus = "COMPLETED"
	IdemFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord is claimed by the first writer for a given key;
// terminal status is immutable.
type IdempotencyRecord struct {
	ID            uuid.UUID
	Key           string
	ClientID      string
	OperationType string
	Status        IdempotencyStatus
	RequestHash   string
	ResponseData  []byte
	ErrorMessage  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	CompletedAt   *time.Time
}

// Expired reports whether the record has passed its TTL as of now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
