package ingest

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// Handler processes one decoded ingest task.
type Handler func(ctx context.Context, task *Task) error

// Consumer reads ingest tasks from Kafka and hands them to the
// handler. Offsets are committed after handling, so a crash mid-task
// redelivers it; ingestion is idempotent via the document fingerprint,
// which makes redelivery safe.
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a Consumer in the given consumer group.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start consumes tasks until the context is cancelled.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Info("stopping ingest consumer")
				return
			default:
				msg, err := c.reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.log.WithError(err).Error("failed to fetch ingest task")
					}
					continue
				}

				var task Task
				if err := json.Unmarshal(msg.Value, &task); err != nil {
					// A malformed task can never succeed; commit it away.
					c.log.WithError(err).Error("failed to decode ingest task, discarding")
				} else if err := handler(ctx, &task); err != nil {
					c.log.WithField("source_id", task.SourceID).
						WithField("offset", msg.Offset).
						WithError(err).Error("failed to handle ingest task")
				}

				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.log.WithError(err).Error("failed to commit ingest task offset")
				}
			}
		}
	}()
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
