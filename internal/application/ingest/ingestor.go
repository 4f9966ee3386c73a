// Package ingest applies fulfillment events to the inventory service,
// tolerating at-least-once delivery through a delivery-id dedup gate.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/siopa/stock-service/internal/domain/bus"
	"github.com/siopa/stock-service/internal/domain/fulfillment"
	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/siopa/stock-service/internal/observability"
	"github.com/siopa/stock-service/internal/observability/logctx"
)

// ErrMalformedEvent marks a payload that can never be applied. It is logged
// and dropped, never retried.
var ErrMalformedEvent = errors.New("ingest: malformed event payload")

// Decrementer is the slice of the inventory service the ingestor needs.
type Decrementer interface {
	DecrementQuantity(ctx context.Context, productID string, amount int) (*domain.Product, error)
}

// AppliedStore tracks which delivery identifiers have been applied.
type AppliedStore interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	Record(ctx context.Context, deliveryID string) error
}

type Config struct {
	// RetryLimit bounds handler-level retries of transient contention.
	RetryLimit int
	// RetryBackoff is the pause between contention retries.
	RetryBackoff time.Duration
}

// Ingestor turns fulfillment events into decrement calls. The applied marker
// is recorded after the decrement commits; a crash between the two leaves a
// narrow window in which one redelivery re-applies the event. Expanding the
// marker into the product record itself would close it at the cost of
// cross-record writes.
type Ingestor struct {
	inv       Decrementer
	applied   AppliedStore
	publisher bus.Publisher
	cfg       Config

	log    observability.Logger
	events observability.Counter
}

func New(inv Decrementer, applied AppliedStore, publisher bus.Publisher, tel observability.Observability, cfg Config) *Ingestor {
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &Ingestor{
		inv:       inv,
		applied:   applied,
		publisher: publisher,
		cfg:       cfg,
		log:       tel.Logger().With(observability.F("service", "order-event-ingestor")),
		events:    tel.Metrics().Counter(observability.MIngestEvents),
	}
}

// orderMessage is the wire shape of a fulfillment event.
type orderMessage struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Handle decodes a raw event payload and applies it. deliveryID comes from
// the transport (e.g. topic/partition/offset); when the transport supplies
// none, a digest of the payload stands in.
func (ing *Ingestor) Handle(ctx context.Context, raw []byte, deliveryID string) error {
	var msg orderMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		ing.drop(ctx, raw, err)
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if msg.ProductID == "" || msg.Quantity <= 0 {
		err := fmt.Errorf("%w: productId and positive quantity required", ErrMalformedEvent)
		ing.drop(ctx, raw, err)
		return err
	}
	if deliveryID == "" {
		deliveryID = fmt.Sprintf("%x", sha256.Sum256(raw))
	}
	return ing.Apply(ctx, fulfillment.NewEvent(msg.ProductID, msg.Quantity, deliveryID))
}

// Apply runs the dedup gate and the decrement, retrying only transient
// contention. Everything else non-transient goes to the dead-letter path.
func (ing *Ingestor) Apply(ctx context.Context, e fulfillment.Event) error {
	logger := logctx.FromOr(ctx, ing.log).With(
		observability.F("product_id", e.ProductID),
		observability.F("quantity", e.Quantity),
		observability.F("delivery_id", e.DeliveryID),
	)

	seen, err := ing.applied.Seen(ctx, e.DeliveryID)
	if err != nil {
		return fmt.Errorf("ingest: dedup lookup: %w", err)
	}
	if seen {
		ing.events.Add(1, observability.L("outcome", "duplicate"))
		logger.Info("event_replayed_noop")
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= ing.cfg.RetryLimit; attempt++ {
		_, err := ing.inv.DecrementQuantity(ctx, e.ProductID, e.Quantity)
		if err == nil {
			if recErr := ing.applied.Record(ctx, e.DeliveryID); recErr != nil {
				logger.Warn("applied_marker_write_failed",
					observability.F("error", recErr.Error()),
				)
			}
			ing.events.Add(1, observability.L("outcome", "applied"))
			logger.Info("event_applied")
			return nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrContention) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ing.cfg.RetryBackoff):
		}
	}

	ing.deadLetter(ctx, e, lastErr)
	return lastErr
}

func (ing *Ingestor) drop(ctx context.Context, raw []byte, err error) {
	ing.events.Add(1, observability.L("outcome", "malformed"))
	logctx.FromOr(ctx, ing.log).Error("event_dropped_malformed",
		observability.F("payload", string(raw)),
		observability.F("error", err.Error()),
	)
}

func (ing *Ingestor) deadLetter(ctx context.Context, e fulfillment.Event, cause error) {
	reason := reasonFromError(cause)
	ing.events.Add(1, observability.L("outcome", "dead_letter"))
	logctx.FromOr(ctx, ing.log).Error("event_dead_lettered",
		observability.F("product_id", e.ProductID),
		observability.F("quantity", e.Quantity),
		observability.F("delivery_id", e.DeliveryID),
		observability.F("reason", reason),
		observability.F("error", cause.Error()),
	)
	if ing.publisher == nil {
		return
	}
	if err := ing.publisher.Publish(ctx, fulfillment.NewDeadLetterEvent(e, reason)); err != nil {
		logctx.FromOr(ctx, ing.log).Warn("dead_letter_publish_failed",
			observability.F("error", err.Error()),
		)
	}
}

func reasonFromError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fulfillment.ReasonNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return fulfillment.ReasonInsufficientStock
	case errors.Is(err, domain.ErrContention):
		return fulfillment.ReasonContention
	default:
		return fulfillment.ReasonPersistenceError
	}
}
