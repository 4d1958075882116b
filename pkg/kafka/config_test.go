package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []ProducerOption
		ok   bool
	}{
		{"defaults need brokers", nil, false},
		{"no topic", []ProducerOption{WithBrokers([]string{"k:9092"}, "")}, false},
		{"valid", []ProducerOption{WithBrokers([]string{"k:9092"}, "model-events")}, true},
		{"bad acks", []ProducerOption{WithBrokers([]string{"k:9092"}, "t"), WithDelivery(2, 3, "gzip")}, false},
		{"bad codec", []ProducerOption{WithBrokers([]string{"k:9092"}, "t"), WithDelivery(1, 3, "brotli")}, false},
		{"no attempts", []ProducerOption{WithBrokers([]string{"k:9092"}, "t"), WithDelivery(1, 0, "none")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultProducerConfig()
			for _, o := range tt.opts {
				o(cfg)
			}
			if tt.ok {
				assert.NoError(t, cfg.validate())
			} else {
				assert.Error(t, cfg.validate())
			}
		})
	}
}

func TestProducerConfigWriter(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, o := range []ProducerOption{
		WithBrokers([]string{"k:9092"}, "model-events"),
		WithDelivery(1, 5, "zstd"),
		WithBatching(10, 4096, 50*time.Millisecond),
		WithKeyOrdering(),
	} {
		o(cfg)
	}
	require.NoError(t, cfg.validate())

	w := cfg.writer()
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.Equal(t, 5, w.MaxAttempts)
	assert.Equal(t, 10, w.BatchSize)
	assert.Equal(t, int64(4096), w.BatchBytes)
	assert.Equal(t, 50*time.Millisecond, w.BatchTimeout)
}
