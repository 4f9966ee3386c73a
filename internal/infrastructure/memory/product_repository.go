package memory

import (
	"context"
	"sync"

	domain "github.com/siopa/stock-service/internal/domain/product"
)

// ProductRepository is a process-local record store. The mutex makes each
// ConditionalUpdate a single compare-and-swap on the record's version token,
// which is the only atomicity the inventory service relies on.
type ProductRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Record
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{records: make(map[string]domain.Record)}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (domain.Record, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *ProductRepository) Put(ctx context.Context, p domain.Product) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[p.ID] = domain.Record{Product: *p.Clone(), Version: 1}
	return nil
}

func (r *ProductRepository) ConditionalUpdate(ctx context.Context, id string, expectedVersion uint64, p domain.Product) (domain.Record, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return domain.Record{}, domain.ErrVersionConflict
	}

	next := domain.Record{Product: *p.Clone(), Version: cur.Version + 1}
	r.records[id] = next
	return cloneRecord(next), nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Product, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.Product.Clone())
	}
	return out, nil
}

func (r *ProductRepository) ListByStore(ctx context.Context, storeID string) ([]domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Product
	for _, rec := range r.records {
		if rec.Product.StoreID == storeID {
			out = append(out, *rec.Product.Clone())
		}
	}
	return out, nil
}

func cloneRecord(rec domain.Record) domain.Record {
	return domain.Record{Product: *rec.Product.Clone(), Version: rec.Version}
}
