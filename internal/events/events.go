// Package events defines the post-commit notification payloads and the
// Sink abstraction the kernel notifies after each durable state change.
// The kernel never blocks on delivery confirmation (see spec §6).
package events

import (
	"time"

	"github.com/google/uuid"
)

// TransactionEvent is emitted after a transaction's status changes.
type TransactionEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// BatchEvent is emitted after a settlement batch's status changes.
type BatchEvent struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NettingEvent is emitted once a batch's netting positions are persisted.
type NettingEvent struct {
	BatchID          uuid.UUID `json:"batch_id"`
	Currency         string    `json:"currency"`
	ParticipantCount int       `json:"participant_count"`
	Timestamp        time.Time `json:"timestamp"`
}

// SettlementEvent is emitted once a batch's netting is computed, just
// before the batch moves to Completed, carrying the batch's net amount for
// downstream settlement-instruction consumers.
type SettlementEvent struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Currency  string    `json:"currency"`
	NetAmount string    `json:"net_amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink is the fire-and-observe notification channel. Implementations must
// never block the caller on delivery confirmation.
type Sink interface {
	PublishTransaction(TransactionEvent) error
	PublishBatch(BatchEvent) error
	PublishNetting(NettingEvent) error
	PublishSettlement(SettlementEvent) error
	Close() error
	IsHealthy() bool
}

// NoOpSink discards every event. Used in unit tests and as a safe fallback
// when no other sink is configured.
type NoOpSink struct{}

func NewNoOpSink() *NoOpSink { return &NoOpSink{} }

func (NoOpSink) PublishTransaction(TransactionEvent) error { return nil }
func (NoOpSink) PublishBatch(BatchEvent) error             { return nil }
func (NoOpSink) PublishNetting(NettingEvent) error         { return nil }
func (NoOpSink) PublishSettlement(SettlementEvent) error   { return nil }
func (NoOpSink) Close() error                              { return nil }
func (NoOpSink) IsHealthy() bool                            { return true }
