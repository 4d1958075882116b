package kafka

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig describes how lifecycle events reach the brokers.
type ProducerConfig struct {
	Brokers []string
	Topic   string

	RequiredAcks int
	MaxAttempts  int
	Compression  string

	BatchSize  int
	BatchBytes int
	Linger     time.Duration

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	Async      bool
	KeyOrdered bool
}

func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		RequiredAcks: -1,
		MaxAttempts:  3,
		Compression:  "gzip",
		BatchSize:    100,
		BatchBytes:   1 << 20,
		Linger:       time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
}

// WithBrokers sets the bootstrap brokers and the default topic.
func WithBrokers(brokers []string, topic string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Brokers = brokers
		c.Topic = topic
	}
}

// WithDelivery sets acknowledgements (-1 all, 0 none, 1 leader), writer
// retries and the compression codec.
func WithDelivery(acks, attempts int, compression string) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
		c.MaxAttempts = attempts
		c.Compression = compression
	}
}

// WithBatching bounds a batch by message count, bytes and linger time.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.BatchSize = size
		c.BatchBytes = bytes
		c.Linger = linger
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// WithAsync makes Publish return before the brokers acknowledge.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

// WithKeyOrdering routes messages by key hash, so all events of one model
// land on one partition in order.
func WithKeyOrdering() ProducerOption {
	return func(c *ProducerConfig) { c.KeyOrdered = true }
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka: topic is required")
	}
	switch c.RequiredAcks {
	case -1, 0, 1:
	default:
		return fmt.Errorf("kafka: required acks must be -1, 0 or 1, got %d", c.RequiredAcks)
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka: unknown compression %q", c.Compression)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("kafka: max attempts must be >= 1")
	}
	return nil
}

func (c *ProducerConfig) writer() *kafka.Writer {
	bal := kafka.Balancer(&kafka.LeastBytes{})
	if c.KeyOrdered {
		bal = &kafka.Hash{}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               bal,
		RequiredAcks:           kafka.RequiredAcks(c.RequiredAcks),
		Compression:            parseCompression(c.Compression),
		MaxAttempts:            c.MaxAttempts,
		WriteTimeout:           c.WriteTimeout,
		ReadTimeout:            c.ReadTimeout,
		BatchSize:              c.BatchSize,
		BatchBytes:             int64(c.BatchBytes),
		BatchTimeout:           c.Linger,
		Async:                  c.Async,
		AllowAutoTopicCreation: true,
	}
}
