package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	dombus "github.com/siopa/stock-service/internal/domain/bus"
	"github.com/siopa/stock-service/internal/domain/fulfillment"
	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/siopa/stock-service/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventory records decrement calls and replies from a scripted error
// sequence (nil means success).
type fakeInventory struct {
	mu     sync.Mutex
	calls  []int
	script []error
}

func (f *fakeInventory) DecrementQuantity(_ context.Context, productID string, amount int) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, amount)
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.Product{ID: productID}, nil
}

func (f *fakeInventory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []dombus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, e dombus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newIngestor(inv *fakeInventory, pub dombus.Publisher) (*Ingestor, *memory.AppliedStore) {
	applied := memory.NewAppliedStore()
	ing := New(inv, applied, pub, nil, Config{RetryLimit: 2, RetryBackoff: time.Millisecond})
	return ing, applied
}

func TestHandleAppliesDecrement(t *testing.T) {
	inv := &fakeInventory{}
	ing, applied := newIngestor(inv, nil)

	err := ing.Handle(context.Background(), []byte(`{"productId":"p-1","quantity":3}`), "d-1")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, inv.calls)

	seen, err := applied.Seen(context.Background(), "d-1")
	require.NoError(t, err)
	assert.True(t, seen, "delivery id recorded after commit")
}

func TestHandleMalformedPayloadDropped(t *testing.T) {
	inv := &fakeInventory{}
	ing, _ := newIngestor(inv, nil)
	ctx := context.Background()

	for _, raw := range []string{
		`not json at all`,
		`{"productId":"","quantity":3}`,
		`{"productId":"p-1","quantity":0}`,
		`{"productId":"p-1","quantity":-2}`,
	} {
		err := ing.Handle(ctx, []byte(raw), "d-x")
		assert.ErrorIs(t, err, ErrMalformedEvent, raw)
	}
	assert.Zero(t, inv.callCount(), "malformed events must never reach the service")
}

func TestReplaySameDeliveryAppliesOnce(t *testing.T) {
	inv := &fakeInventory{}
	ing, _ := newIngestor(inv, nil)
	ctx := context.Background()
	raw := []byte(`{"productId":"p-1","quantity":5}`)

	require.NoError(t, ing.Handle(ctx, raw, "d-1"))
	require.NoError(t, ing.Handle(ctx, raw, "d-1"))
	require.NoError(t, ing.Handle(ctx, raw, "d-1"))

	assert.Equal(t, 1, inv.callCount(), "redelivery must be a no-op")
}

func TestDistinctDeliveriesApplySeparately(t *testing.T) {
	inv := &fakeInventory{}
	ing, _ := newIngestor(inv, nil)
	ctx := context.Background()
	raw := []byte(`{"productId":"p-1","quantity":5}`)

	require.NoError(t, ing.Handle(ctx, raw, "d-1"))
	require.NoError(t, ing.Handle(ctx, raw, "d-2"))
	assert.Equal(t, 2, inv.callCount())
}

func TestMissingDeliveryIDFallsBackToPayloadDigest(t *testing.T) {
	inv := &fakeInventory{}
	ing, _ := newIngestor(inv, nil)
	ctx := context.Background()
	raw := []byte(`{"productId":"p-1","quantity":5}`)

	require.NoError(t, ing.Handle(ctx, raw, ""))
	require.NoError(t, ing.Handle(ctx, raw, ""))
	assert.Equal(t, 1, inv.callCount(), "identical payload without transport id dedups by digest")
}

func TestInsufficientStockDeadLettersWithoutRetry(t *testing.T) {
	inv := &fakeInventory{script: []error{domain.ErrInsufficientStock}}
	pub := &capturingPublisher{}
	ing, applied := newIngestor(inv, pub)

	err := ing.Handle(context.Background(), []byte(`{"productId":"p-1","quantity":9}`), "d-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, inv.callCount(), "business failures are not retried")

	require.Len(t, pub.events, 1)
	dl, ok := pub.events[0].(fulfillment.DeadLetterEvent)
	require.True(t, ok)
	assert.Equal(t, fulfillment.ReasonInsufficientStock, dl.Reason)
	assert.Equal(t, "p-1", dl.ProductID)

	seen, err := applied.Seen(context.Background(), "d-1")
	require.NoError(t, err)
	assert.False(t, seen, "failed events stay unrecorded so redelivery can retry")
}

func TestContentionRetriesThenSucceeds(t *testing.T) {
	inv := &fakeInventory{script: []error{domain.ErrContention, domain.ErrContention, nil}}
	pub := &capturingPublisher{}
	ing, _ := newIngestor(inv, pub)

	err := ing.Handle(context.Background(), []byte(`{"productId":"p-1","quantity":1}`), "d-1")
	require.NoError(t, err)
	assert.Equal(t, 3, inv.callCount())
	assert.Empty(t, pub.events)
}

func TestContentionExhaustionDeadLetters(t *testing.T) {
	inv := &fakeInventory{script: []error{
		domain.ErrContention, domain.ErrContention, domain.ErrContention, domain.ErrContention,
	}}
	pub := &capturingPublisher{}
	ing, _ := newIngestor(inv, pub)

	err := ing.Handle(context.Background(), []byte(`{"productId":"p-1","quantity":1}`), "d-1")
	assert.ErrorIs(t, err, domain.ErrContention)
	// initial attempt + RetryLimit retries
	assert.Equal(t, 3, inv.callCount())

	require.Len(t, pub.events, 1)
	dl := pub.events[0].(fulfillment.DeadLetterEvent)
	assert.Equal(t, fulfillment.ReasonContention, dl.Reason)
}

func TestUnknownProductDeadLetters(t *testing.T) {
	inv := &fakeInventory{script: []error{domain.ErrNotFound}}
	pub := &capturingPublisher{}
	ing, _ := newIngestor(inv, pub)

	err := ing.Handle(context.Background(), []byte(`{"productId":"ghost","quantity":1}`), "d-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, pub.events, 1)
	dl := pub.events[0].(fulfillment.DeadLetterEvent)
	assert.Equal(t, fulfillment.ReasonNotFound, dl.Reason)
}
