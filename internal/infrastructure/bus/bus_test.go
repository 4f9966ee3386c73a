package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	dombus "github.com/siopa/stock-service/internal/domain/bus"
	"github.com/siopa/stock-service/internal/domain/fulfillment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(nil)
	received := make(chan dombus.Event, 1)
	b.Subscribe(fulfillment.Event{}.EventName(), func(_ context.Context, e dombus.Event) error {
		received <- e
		return nil
	})

	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	evt := fulfillment.NewEvent("p-1", 3, "d-1")
	require.NoError(t, b.Publish(ctx, evt))

	select {
	case got := <-received:
		assert.Equal(t, evt, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestFanoutReachesAllSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(nil)
	var delivered atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		b.Subscribe(fulfillment.Event{}.EventName(), func(_ context.Context, _ dombus.Event) error {
			delivered.Add(1)
			done <- struct{}{}
			return nil
		})
	}

	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	require.NoError(t, b.Publish(ctx, fulfillment.NewEvent("p-1", 1, "d-1")))
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("fanout incomplete")
		}
	}
	assert.Equal(t, int32(3), delivered.Load())
}

func TestPanickingHandlerDoesNotKillDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(nil)
	b.Subscribe(fulfillment.Event{}.EventName(), func(_ context.Context, _ dombus.Event) error {
		panic("boom")
	})
	survived := make(chan struct{}, 1)
	b.Subscribe(fulfillment.Event{}.EventName(), func(_ context.Context, _ dombus.Event) error {
		survived <- struct{}{}
		return nil
	})

	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	require.NoError(t, b.Publish(ctx, fulfillment.NewEvent("p-1", 1, "d-1")))
	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran after sibling panic")
	}

	// a later event still dispatches
	require.NoError(t, b.Publish(ctx, fulfillment.NewEvent("p-2", 1, "d-2")))
	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop stopped after handler panic")
	}
}

func TestHandlerErrorIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(nil)
	calls := make(chan struct{}, 2)
	b.Subscribe(fulfillment.Event{}.EventName(), func(_ context.Context, _ dombus.Event) error {
		calls <- struct{}{}
		return errors.New("handler failed")
	})

	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	require.NoError(t, b.Publish(ctx, fulfillment.NewEvent("p-1", 1, "d-1")))
	require.NoError(t, b.Publish(ctx, fulfillment.NewEvent("p-1", 1, "d-2")))
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not invoked")
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(nil)
	ctx := context.Background()
	b.Start(ctx)
	b.Stop(ctx)
	b.Stop(ctx)
}
