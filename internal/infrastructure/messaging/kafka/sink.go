package kafka

import (
	kevents "github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
)

// Sink adapts the async producer to the internal/events.Sink contract,
// keying each message on the entity id so partition order follows that
// entity's own event stream.
type Sink struct {
	producer *AsyncProducer
}

// NewSink wraps an already-constructed async producer.
func NewSink(producer *AsyncProducer) *Sink {
	return &Sink{producer: producer}
}

func (s *Sink) PublishTransaction(e kevents.TransactionEvent) error {
	return s.producer.PublishEventAsync(TopicTransactions, e.TransactionID.String(), e)
}

func (s *Sink) PublishBatch(e kevents.BatchEvent) error {
	return s.producer.PublishEventAsync(TopicBatches, e.BatchID.String(), e)
}

func (s *Sink) PublishNetting(e kevents.NettingEvent) error {
	return s.producer.PublishEventAsync(TopicNetting, e.BatchID.String()+":"+e.Currency, e)
}

func (s *Sink) PublishSettlement(e kevents.SettlementEvent) error {
	return s.producer.PublishEventAsync(TopicSettlements, e.BatchID.String()+":"+e.Currency, e)
}

func (s *Sink) Close() error { return s.producer.Close() }

func (s *Sink) IsHealthy() bool { return s.producer.IsHealthy() }
