package product

import "context"

// Record pairs a stored Product with its version token. The token is bumped
// on every successful write and is the sole synchronization point between
// concurrent writers.
type Record struct {
	Product Product
	Version uint64
}

// Repository is the durable keyed-record store behind the inventory service.
// ConditionalUpdate must be atomic per record: it commits only when
// expectedVersion matches the current token, otherwise it returns
// ErrVersionConflict and the caller re-reads and recomputes.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	// Put stores a fresh record at version 1. Used only by create.
	Put(ctx context.Context, p Product) error
	ConditionalUpdate(ctx context.Context, id string, expectedVersion uint64, p Product) (Record, error)
	Delete(ctx context.Context, id string) error
	// ListAll and ListByStore return point-in-time snapshots.
	ListAll(ctx context.Context) ([]Product, error)
	ListByStore(ctx context.Context, storeID string) ([]Product, error)
}
