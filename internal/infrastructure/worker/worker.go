// Package worker binds bus subscriptions to the ingest application layer.
package worker

import (
	"context"

	"github.com/siopa/stock-service/internal/application/ingest"
	dombus "github.com/siopa/stock-service/internal/domain/bus"
	"github.com/siopa/stock-service/internal/domain/fulfillment"
	"github.com/siopa/stock-service/internal/observability"
)

// IngestWorker feeds in-process fulfillment events to the ingestor, exactly
// as a brokered consumer would.
type IngestWorker struct {
	subscriber dombus.Subscriber
	ingestor   *ingest.Ingestor
	log        observability.Logger
}

func NewIngestWorker(subscriber dombus.Subscriber, ingestor *ingest.Ingestor, logger observability.Logger) *IngestWorker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &IngestWorker{
		subscriber: subscriber,
		ingestor:   ingestor,
		log:        logger.With(observability.F("component", "ingest_worker")),
	}
}

func (w *IngestWorker) Start() {
	if w.subscriber == nil || w.ingestor == nil {
		return
	}
	w.subscriber.Subscribe(fulfillment.Event{}.EventName(), w.handle)
}

func (w *IngestWorker) handle(ctx context.Context, e dombus.Event) error {
	evt, ok := e.(fulfillment.Event)
	if !ok {
		w.log.Warn("unexpected_event_type",
			observability.F("event", e.EventName()),
		)
		return nil
	}
	return w.ingestor.Apply(ctx, evt)
}

// DeadLetterLogger is the in-process stand-in for the external alerting path:
// it surfaces dead-lettered events at error level.
type DeadLetterLogger struct {
	subscriber dombus.Subscriber
	log        observability.Logger
}

func NewDeadLetterLogger(subscriber dombus.Subscriber, logger observability.Logger) *DeadLetterLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DeadLetterLogger{
		subscriber: subscriber,
		log:        logger.With(observability.F("component", "dead_letter")),
	}
}

func (d *DeadLetterLogger) Start() {
	if d.subscriber == nil {
		return
	}
	d.subscriber.Subscribe(fulfillment.DeadLetterEvent{}.EventName(), d.handle)
}

func (d *DeadLetterLogger) handle(_ context.Context, e dombus.Event) error {
	evt, ok := e.(fulfillment.DeadLetterEvent)
	if !ok {
		return nil
	}
	d.log.Error("fulfillment_event_unprocessable",
		observability.F("product_id", evt.ProductID),
		observability.F("quantity", evt.Quantity),
		observability.F("delivery_id", evt.DeliveryID),
		observability.F("reason", evt.Reason),
	)
	return nil
}
