// Package components wires the ledger kernel's subsystems into a single
// lifecycle-managed Container, adapted from the teacher's
// internal/pkg/components.Container (sync.Once singleton, initXxx steps,
// graceful Shutdown) with the HTTP/Gin surface removed entirely — the
// kernel has no HTTP surface — and the teacher's Kafka event publisher
// replaced by the Sink abstraction, with the same Kafka-fails-falls-back
// pattern the teacher's initEventPublisher uses.
package components

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/batch"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/config"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/events"
	inmembroker "github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/events"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/messaging/kafka"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/infrastructure/store"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/idempotency"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/ledger"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/submission"
)

// Container holds every long-lived component the kernel needs, wired once
// at process start and torn down once at shutdown.
type Container struct {
	Config      *config.Config
	Store       *store.Store
	Idempotency *idempotency.Service
	Posting     *ledger.Engine
	Batch       *batch.Service
	Scheduler   *batch.Scheduler
	Submission  *submission.Processor
	Sink        events.Sink

	cache *idempotency.Cache
}

var (
	instance     *Container
	instanceOnce sync.Once
	instanceErr  error
)

// GetInstance returns the process-wide singleton container, building it on
// first call.
func GetInstance() (*Container, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = newContainer()
	})
	return instance, instanceErr
}

func newContainer() (*Container, error) {
	c := &Container{}

	c.initConfig()
	c.initLogger()

	if err := c.initStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize durable store: %w", err)
	}
	c.initIdempotency()
	c.initSink()
	c.initPosting()
	c.initBatch()
	c.initSubmission()

	logging.Info("container initialized", nil)
	return c, nil
}

func (c *Container) initConfig() {
	c.Config = config.Load()
}

func (c *Container) initLogger() {
	logging.Init(c.Config)
	logging.Info("logger initialized", map[string]any{"level": c.Config.Logging.Level})
}

func (c *Container) initStore() error {
	dbConfig := store.NewConfigFromEnv()
	s, err := store.New(context.Background(), dbConfig)
	if err != nil {
		return err
	}
	c.Store = s
	return nil
}

func (c *Container) initIdempotency() {
	c.cache = idempotency.NewCache(time.Minute)
	durableStore := store.NewIdempotencyStore(c.Store)
	c.Idempotency = idempotency.NewService(c.cache, durableStore, c.Config.Idempotency.TTL)
}

// initSink wires the event sink abstraction. A Kafka broker is used when
// EVENTS_BACKEND=kafka; if the producer fails to initialize, it falls back
// to the in-process broker rather than failing container startup, since
// the kernel's durable state changes must never depend on a message broker
// being reachable.
func (c *Container) initSink() {
	if os.Getenv("EVENTS_BACKEND") == "kafka" {
		kafkaConfig := kafka.NewConfigFromEnv()
		producer, err := kafka.NewAsyncProducer(kafkaConfig)
		if err != nil {
			logging.Warn("failed to initialize kafka sink, falling back to in-process broker", map[string]any{"error": err.Error()})
			c.Sink = inmembroker.GetBroker()
			return
		}
		c.Sink = kafka.NewSink(producer)
		return
	}
	c.Sink = inmembroker.GetBroker()
}

func (c *Container) initPosting() {
	ledgerStore := store.NewLedgerStore(c.Store)
	c.Posting = ledger.NewEngine(ledgerStore, c.Sink, c.Config.Posting)
}

func (c *Container) initBatch() {
	batchStore := store.NewBatchStore(c.Store)
	nettingStore := store.NewNettingStore(c.Store)
	c.Batch = batch.NewService(batchStore, nettingStore, c.Sink, c.Config.Settlement, c.Config.Netting)
	c.Scheduler = batch.NewScheduler(c.Batch, schedulerInterval(c.Config.Settlement))
}

// initSubmission wires the control-flow seam that composes Idempotency,
// Posting, and Batch assignment into the single path a submitted
// transaction traverses.
func (c *Container) initSubmission() {
	c.Submission = submission.NewProcessor(c.Idempotency, c.Posting, c.Batch, c.Config.Idempotency.FingerprintWindow)
}

// schedulerInterval picks a wake cadence short enough to catch every
// configured window's cut-off promptly without busy-polling.
func schedulerInterval(cfg config.SettlementConfig) time.Duration {
	switch cfg.Window {
	case config.WindowRealTime:
		return time.Second
	case config.WindowMicroBatch:
		mins := cfg.MicroBatchMins
		if mins <= 0 {
			mins = 5
		}
		return time.Duration(mins) * time.Minute / 4
	case config.WindowDaily:
		return 10 * time.Minute
	default: // Hourly
		return time.Minute
	}
}

// Start begins background processing (the batch scheduler). It returns
// immediately; the scheduler runs until ctx is cancelled or Shutdown stops
// it explicitly.
func (c *Container) Start(ctx context.Context) {
	c.Scheduler.Start(ctx)
}

// Shutdown releases every component's resources in reverse dependency
// order: scheduler first (so no new batch work starts), then the cache,
// then the event sink, then the durable store.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Scheduler.Stop()
	c.cache.Close()

	if c.Sink != nil {
		if err := c.Sink.Close(); err != nil {
			logging.Error("failed to close event sink", err, nil)
		}
	}

	c.Store.Close()
	return nil
}
