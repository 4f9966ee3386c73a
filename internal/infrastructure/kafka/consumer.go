// Package kafka consumes fulfillment events from a Kafka topic and feeds
// them to the ingestor. Delivery identifiers come from the message
// coordinates, so redeliveries after a consumer-group rebalance dedup
// cleanly.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	"github.com/siopa/stock-service/internal/application/ingest"
	"github.com/siopa/stock-service/internal/observability"
)

// Reader is the slice of kafka.Reader the consumer uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type Consumer struct {
	reader   Reader
	ingestor *ingest.Ingestor
	log      observability.Logger
}

func NewConsumer(cfg Config, ingestor *ingest.Ingestor, logger observability.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return newConsumer(reader, ingestor, logger)
}

func newConsumer(reader Reader, ingestor *ingest.Ingestor, logger observability.Logger) *Consumer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Consumer{
		reader:   reader,
		ingestor: ingestor,
		log:      logger.With(observability.F("component", "kafka_consumer")),
	}
}

// Run reads until ctx is canceled or the reader is closed. Handler errors
// are already accounted for by the ingestor (drop or dead-letter); the loop
// never requeues.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("kafka_consumer_started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				c.log.Info("kafka_consumer_stopped")
				return nil
			}
			c.log.Error("kafka_read_error",
				observability.F("error", err.Error()),
			)
			continue
		}

		deliveryID := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		if err := c.ingestor.Handle(ctx, msg.Value, deliveryID); err != nil {
			c.log.Warn("event_not_applied",
				observability.F("delivery_id", deliveryID),
				observability.F("error", err.Error()),
			)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
