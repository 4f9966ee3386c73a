package fulfillment

import "time"

const (
	ReasonNotFound          = "not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonMalformedPayload  = "malformed_payload"
	ReasonContention        = "contention_exhausted"
	ReasonPersistenceError  = "persist_error"
)

// Event is the immutable fact that an order was fulfilled and stock must be
// decremented. DeliveryID identifies one delivery of the fact for
// deduplication; redeliveries carry the same DeliveryID.
type Event struct {
	ProductID  string
	Quantity   int
	DeliveryID string
	OccurredAt time.Time
}

func (Event) EventName() string { return "fulfillment.completed" }

func NewEvent(productID string, quantity int, deliveryID string) Event {
	return Event{
		ProductID:  productID,
		Quantity:   quantity,
		DeliveryID: deliveryID,
		OccurredAt: time.Now().UTC(),
	}
}

// DeadLetterEvent is emitted when an event cannot be applied and must not be
// retried automatically: a stock shortfall, a missing product, or an
// exhausted contention budget. It is consumed by an alerting subscriber.
type DeadLetterEvent struct {
	ProductID  string
	Quantity   int
	DeliveryID string
	Reason     string
	OccurredAt time.Time
}

func (DeadLetterEvent) EventName() string { return "fulfillment.dead_letter" }

func NewDeadLetterEvent(e Event, reason string) DeadLetterEvent {
	return DeadLetterEvent{
		ProductID:  e.ProductID,
		Quantity:   e.Quantity,
		DeliveryID: e.DeliveryID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
