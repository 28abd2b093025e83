// Package events provides the in-memory fan-out Sink used by tests and
// local runs, grounded in the teacher's events.Broker (a single goroutine
// owning subscriber state, driven by channels rather than a mutex).
package events

import (
	"sync"

	kevents "github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/telemetry"
)

// envelope carries exactly one of the four event payloads.
type envelope struct {
	transaction *kevents.TransactionEvent
	batch       *kevents.BatchEvent
	netting     *kevents.NettingEvent
	settlement  *kevents.SettlementEvent
}

// Broker fans each published event out to every current subscriber. Sends to
// subscriber channels never block the publisher: a full subscriber channel
// drops the event rather than stall the posting/batch/netting pipeline,
// matching the "never blocks on delivery confirmation" contract in spec §6.
type Broker struct {
	mu       sync.Mutex
	clients  map[chan envelope]bool
	newCh    chan chan envelope
	closedCh chan chan envelope
	events   chan envelope
}

var (
	BrokerInstance *Broker
	brokerOnce     sync.Once
)

// GetBroker returns the singleton event broker instance.
func GetBroker() *Broker {
	brokerOnce.Do(func() {
		BrokerInstance = NewBroker()
	})
	return BrokerInstance
}

// NewBroker creates and starts a new Broker. Public for tests; production
// code should use GetBroker().
func NewBroker() *Broker {
	b := &Broker{
		clients:  make(map[chan envelope]bool),
		newCh:    make(chan chan envelope),
		closedCh: make(chan chan envelope),
		events:   make(chan envelope, 256),
	}
	go b.start()
	return b
}

func (b *Broker) start() {
	for {
		select {
		case client := <-b.newCh:
			b.clients[client] = true
		case client := <-b.closedCh:
			delete(b.clients, client)
			close(client)
		case env := <-b.events:
			for client := range b.clients {
				select {
				case client <- env:
				default:
					telemetry.RecordEventDropped("subscriber_full")
				}
			}
		}
	}
}

// Subscribe registers a new listener and returns its channel.
func (b *Broker) Subscribe() chan envelope {
	ch := make(chan envelope, 64)
	b.newCh <- ch
	return ch
}

// Unsubscribe removes a listener.
func (b *Broker) Unsubscribe(ch chan envelope) {
	b.closedCh <- ch
}

func (b *Broker) publish(env envelope) error {
	select {
	case b.events <- env:
		return nil
	default:
		telemetry.RecordEventDropped("broker_full")
		return nil
	}
}

func (b *Broker) PublishTransaction(e kevents.TransactionEvent) error { return b.publish(envelope{transaction: &e}) }
func (b *Broker) PublishBatch(e kevents.BatchEvent) error             { return b.publish(envelope{batch: &e}) }
func (b *Broker) PublishNetting(e kevents.NettingEvent) error         { return b.publish(envelope{netting: &e}) }
func (b *Broker) PublishSettlement(e kevents.SettlementEvent) error   { return b.publish(envelope{settlement: &e}) }
func (b *Broker) Close() error                                       { return nil }
func (b *Broker) IsHealthy() bool                                     { return true }
