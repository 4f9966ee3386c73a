package kafka

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/siopa/stock-service/internal/application/ingest"
	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/siopa/stock-service/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader yields a fixed message sequence, then io.EOF.
type scriptedReader struct {
	mu       sync.Mutex
	messages []segkafka.Message
	closed   bool
}

func (r *scriptedReader) ReadMessage(_ context.Context) (segkafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return segkafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type countingInventory struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingInventory) DecrementQuantity(_ context.Context, productID string, amount int) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[productID] += amount
	return &domain.Product{ID: productID}, nil
}

func msg(topic string, partition int, offset int64, value string) segkafka.Message {
	return segkafka.Message{Topic: topic, Partition: partition, Offset: offset, Value: []byte(value)}
}

func TestRunAppliesMessagesWithOffsetDeliveryIDs(t *testing.T) {
	inv := &countingInventory{}
	ing := ingest.New(inv, memory.NewAppliedStore(), nil, nil, ingest.Config{RetryLimit: 1, RetryBackoff: time.Millisecond})
	reader := &scriptedReader{messages: []segkafka.Message{
		msg("orders", 0, 1, `{"productId":"p-1","quantity":2}`),
		msg("orders", 0, 2, `{"productId":"p-1","quantity":3}`),
		// same coordinates as the first message: a redelivery
		msg("orders", 0, 1, `{"productId":"p-1","quantity":2}`),
		msg("orders", 1, 1, `{"productId":"p-2","quantity":4}`),
	}}
	consumer := newConsumer(reader, ing, nil)

	require.NoError(t, consumer.Run(context.Background()))

	assert.Equal(t, 5, inv.calls["p-1"], "redelivered offset applies once")
	assert.Equal(t, 4, inv.calls["p-2"])
}

func TestRunSkipsMalformedMessages(t *testing.T) {
	inv := &countingInventory{}
	ing := ingest.New(inv, memory.NewAppliedStore(), nil, nil, ingest.Config{RetryLimit: 1, RetryBackoff: time.Millisecond})
	reader := &scriptedReader{messages: []segkafka.Message{
		msg("orders", 0, 1, `garbage`),
		msg("orders", 0, 2, `{"productId":"p-1","quantity":2}`),
	}}
	consumer := newConsumer(reader, ing, nil)

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, 2, inv.calls["p-1"], "valid message after a malformed one still applies")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	inv := &countingInventory{}
	ing := ingest.New(inv, memory.NewAppliedStore(), nil, nil, ingest.Config{})
	reader := &blockingReader{unblock: make(chan struct{})}
	consumer := newConsumer(reader, ing, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	cancel()
	close(reader.unblock)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

// blockingReader blocks until released, then reports the context error.
type blockingReader struct {
	unblock chan struct{}
	closed  bool
}

func (r *blockingReader) ReadMessage(ctx context.Context) (segkafka.Message, error) {
	select {
	case <-ctx.Done():
		return segkafka.Message{}, ctx.Err()
	case <-r.unblock:
		<-ctx.Done()
		return segkafka.Message{}, ctx.Err()
	}
}

func (r *blockingReader) Close() error {
	r.closed = true
	return nil
}
