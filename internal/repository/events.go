package repository

import (
	"context"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	pkgkafka "PriceCast/pkg/kafka"
	applogger "PriceCast/pkg/logger"
)

// KafkaEventPublisher sends lifecycle events keyed by model id so every
// event for one model lands on the same partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string, l *applogger.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic, l: l.Named("events")}
}

// Publish logs delivery failures and returns them; callers treat them as
// non-fatal.
func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.LifecycleEvent) error {
	key := ev.ModelID
	if key == "" {
		key = ev.JobID
	}
	headers := map[string]string{"event_type": string(ev.Type)}
	if err := p.producer.Publish(ctx, p.topic, []byte(key), ev, headers); err != nil {
		p.l.Warn("publish lifecycle event failed",
			applogger.String("type", string(ev.Type)),
			applogger.ModelID(ev.ModelID),
			applogger.Error(err),
		)
		return err
	}
	p.l.Debug("lifecycle event published", applogger.String("type", string(ev.Type)), applogger.ModelID(ev.ModelID))
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// NoopEventPublisher drops every event.
type NoopEventPublisher struct{}

var _ domrepo.EventPublisher = NoopEventPublisher{}

func (NoopEventPublisher) Publish(context.Context, models.LifecycleEvent) error { return nil }
func (NoopEventPublisher) Close() error                                         { return nil }
