package repository

import (
	"context"

	"PredServe/internal/domain/models"
	pkgkafka "PredServe/pkg/kafka"
)

// KafkaPredictionPublisher emits served predictions to a Kafka topic,
// keyed by symbol so one symbol's stream stays ordered per partition.
type KafkaPredictionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPredictionPublisher creates a Kafka-backed prediction publisher.
func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) Publish(ctx context.Context, pr *models.PredictionResult) error {
	return p.producer.Publish(ctx, p.topic, []byte(pr.Symbol), pr)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
