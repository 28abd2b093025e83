package kafka

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Config holds Kafka producer configuration. Unlike the teacher's
// throughput-tuned producer, the flush/buffer knobs here are exposed
// instead of hardcoded in the producer constructor, since how aggressively
// the kernel should batch settlement events is a function of the
// configured settlement window (a real-time window wants events flushed
// promptly; a daily window can tolerate larger batches) rather than a
// fixed constant.
type Config struct {
	Brokers           []string
	ClientID          string
	EnableIdempotence bool
	CompressionType   string
	RequiredAcks      string
	MaxRetries        int
	RetryBackoff      time.Duration

	ChannelBufferSize int
	FlushFrequency    time.Duration
	FlushMessages     int
	FlushMaxMessages  int
}

// NewConfigFromEnv creates Kafka config from environment variables
func NewConfigFromEnv() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	brokers := strings.Split(brokersStr, ",")

	return &Config{
		Brokers:           brokers,
		ClientID:          getEnv("KAFKA_CLIENT_ID", "ledger-kernel"),
		EnableIdempotence: getEnvBool("KAFKA_ENABLE_IDEMPOTENCE", false), // disabled; the async producer is fire-and-forget
		CompressionType:   getEnv("KAFKA_COMPRESSION_TYPE", "snappy"),
		RequiredAcks:      getEnv("KAFKA_REQUIRED_ACKS", "0"), // NoResponse: the sink never blocks on delivery confirmation
		MaxRetries:        getEnvInt("KAFKA_MAX_RETRIES", 5),
		RetryBackoff:      getEnvDuration("KAFKA_RETRY_BACKOFF", 100*time.Millisecond),

		ChannelBufferSize: getEnvInt("KAFKA_CHANNEL_BUFFER_SIZE", 50000),
		FlushFrequency:    getEnvDuration("KAFKA_FLUSH_FREQUENCY", 10*time.Millisecond),
		FlushMessages:     getEnvInt("KAFKA_FLUSH_MESSAGES", 1000),
		FlushMaxMessages:  getEnvInt("KAFKA_FLUSH_MAX_MESSAGES", 10000),
	}
}

// ToSaramaConfig converts to Sarama configuration
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()

	// Producer config
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Idempotent = c.EnableIdempotence
	config.Producer.Retry.Max = c.MaxRetries
	config.Producer.Retry.Backoff = c.RetryBackoff

	// Disabling idempotence buys parallelism; Sarama requires
	// MaxOpenRequests=1 when idempotence is enabled.
	if !c.EnableIdempotence {
		config.Net.MaxOpenRequests = 10
	} else {
		config.Net.MaxOpenRequests = 1
	}

	config.ChannelBufferSize = c.ChannelBufferSize
	config.Producer.Flush.Frequency = c.FlushFrequency
	config.Producer.Flush.Messages = c.FlushMessages
	config.Producer.Flush.MaxMessages = c.FlushMaxMessages

	// Set required acks
	switch c.RequiredAcks {
	case "all", "-1":
		config.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("invalid required acks value: %s", c.RequiredAcks)
	}

	// Set compression type
	switch c.CompressionType {
	case "none":
		config.Producer.Compression = sarama.CompressionNone
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("invalid compression type: %s", c.CompressionType)
	}

	// Client ID
	config.ClientID = c.ClientID

	// Version
	config.Version = sarama.V3_0_0_0

	return config, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		fmt.Sscanf(value, "%d", &intValue)
		return intValue
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}
