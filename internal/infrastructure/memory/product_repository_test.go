package memory

import (
	"context"
	"sync"
	"testing"

	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProduct(id, storeID string, quantity int) domain.Product {
	return domain.Product{
		ID:       id,
		StoreID:  storeID,
		Name:     "Mug",
		Price:    5,
		Category: "kitchen",
		Quantity: quantity,
	}
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Put(ctx, sampleProduct("p-1", "s-1", 3)))

	rec, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, 3, rec.Product.Quantity)

	require.NoError(t, repo.Delete(ctx, "p-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "p-1"), domain.ErrNotFound)
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	require.NoError(t, repo.Put(ctx, sampleProduct("p-1", "s-1", 3)))

	p := sampleProduct("p-1", "s-1", 2)
	rec, err := repo.ConditionalUpdate(ctx, "p-1", 1, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, 2, rec.Product.Quantity)

	// stale token is rejected
	_, err = repo.ConditionalUpdate(ctx, "p-1", 1, p)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = repo.ConditionalUpdate(ctx, "missing", 1, p)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConditionalUpdateSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	require.NoError(t, repo.Put(ctx, sampleProduct("p-1", "s-1", 0)))

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, err := repo.Get(ctx, "p-1")
				if !assert.NoError(t, err) {
					return
				}
				next := rec.Product
				next.Quantity++
				if _, err := repo.ConditionalUpdate(ctx, "p-1", rec.Version, next); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	rec, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, writers, rec.Product.Quantity, "no increment may be lost")
	assert.Equal(t, uint64(writers+1), rec.Version)
}

func TestListSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	require.NoError(t, repo.Put(ctx, sampleProduct("p-1", "s-1", 1)))
	require.NoError(t, repo.Put(ctx, sampleProduct("p-2", "s-1", 2)))
	require.NoError(t, repo.Put(ctx, sampleProduct("p-3", "s-2", 3)))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	s1, err := repo.ListByStore(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, s1, 2)

	s3, err := repo.ListByStore(ctx, "s-3")
	require.NoError(t, err)
	assert.Empty(t, s3)

	// mutating a snapshot must not leak into the store
	all[0].Quantity = 100
	rec, err := repo.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, 100, rec.Product.Quantity)
}

func TestAppliedStore(t *testing.T) {
	ctx := context.Background()
	store := NewAppliedStore()

	seen, err := store.Seen(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, "d-1"))
	require.NoError(t, store.Record(ctx, "d-1"))

	seen, err = store.Seen(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
