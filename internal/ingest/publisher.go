package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// Publisher sends ingest tasks to the Kafka topic.
type Publisher struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(brokers []string, topic string, log *logger.Logger) *Publisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: writer, log: log}
}

// Publish enqueues one ingest task, keyed by source so tasks for the
// same document stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, task *Task) error {
	msgBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest task: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SourceID),
		Value: msgBytes,
	})
	if err != nil {
		p.log.WithField("source_id", task.SourceID).WithError(err).Error("failed to publish ingest task")
		return fmt.Errorf("failed to publish ingest task: %w", err)
	}

	p.log.WithField("source_id", task.SourceID).Info("ingest task published")
	return nil
}

// Close closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
