package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	kevents "github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
)

func TestSink_PublishesEveryEventKind(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, sarama.NewConfig())
	mockProducer.ExpectInputAndSucceed()
	mockProducer.ExpectInputAndSucceed()
	mockProducer.ExpectInputAndSucceed()
	mockProducer.ExpectInputAndSucceed()

	sink := NewSink(newTestProducer(t, mockProducer))
	batchID := uuid.New()

	require.NoError(t, sink.PublishTransaction(kevents.TransactionEvent{TransactionID: uuid.New(), Status: "SETTLED", Timestamp: time.Now()}))
	require.NoError(t, sink.PublishBatch(kevents.BatchEvent{BatchID: batchID, Status: "PENDING", Timestamp: time.Now()}))
	require.NoError(t, sink.PublishNetting(kevents.NettingEvent{BatchID: batchID, Currency: "USD", ParticipantCount: 3, Timestamp: time.Now()}))
	require.NoError(t, sink.PublishSettlement(kevents.SettlementEvent{BatchID: batchID, Currency: "USD", NetAmount: "100.0000", Timestamp: time.Now()}))
}

func TestSink_CloseDelegatesToProducer(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, sarama.NewConfig())
	sink := NewSink(newTestProducer(t, mockProducer))

	require.NoError(t, sink.Close())
	require.False(t, sink.IsHealthy())
}
