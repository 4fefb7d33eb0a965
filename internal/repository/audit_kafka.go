package repository

import (
	"context"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
	pkgkafka "ForecastGate/pkg/kafka"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaAuditWriter publishes audit events keyed by request id.
type KafkaAuditWriter struct {
	producer batchPublisher
	topic    string
}

func NewKafkaAuditWriter(producer batchPublisher, topic string) *KafkaAuditWriter {
	return &KafkaAuditWriter{producer: producer, topic: topic}
}

func (w *KafkaAuditWriter) WriteBatch(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, e := range events {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(e.RequestID),
			Value: e,
		}
	}
	return w.producer.PublishBatch(ctx, w.topic, msgs)
}

func (w *KafkaAuditWriter) Health(context.Context) error { return nil }

// Close leaves the producer to its owner; the log collector may share it.
func (w *KafkaAuditWriter) Close() error { return nil }

var _ domrepo.AuditWriter = (*KafkaAuditWriter)(nil)
