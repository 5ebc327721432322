package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/metrics"
	"github.com/liamcoop/simpleexpr/internal/notify"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads evaluation batches from a Kafka topic. Each message value
// is one JSON batch keyed by asset name.
type Consumer struct {
	reader     messageReader
	dispatcher *notify.Dispatcher
}

// NewConsumer creates a consumer group reader on topic
func NewConsumer(brokers []string, topic, groupID string, dispatcher *notify.Dispatcher) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})

	return &Consumer{reader: reader, dispatcher: dispatcher}, nil
}

// Start consumes until ctx is cancelled. Malformed batches are committed
// and dropped so they are not redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	res, err := c.dispatcher.EvaluateJSON(ctx, msg.Value)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("rejected").Inc()
		logger.Warn("rejected evaluation batch", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}

	metrics.IngestMessagesTotal.WithLabelValues("evaluated").Inc()
	logger.Debug("evaluated batch", "offset", msg.Offset, "triggered", res.Triggered)
}

// Stop closes the underlying reader
func (c *Consumer) Stop() error {
	return c.reader.Close()
}
