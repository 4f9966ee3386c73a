// Package redis implements the product repository on Redis. The conditional
// update runs as a Lua script so the version compare and the overwrite are a
// single atomic step on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domain "github.com/siopa/stock-service/internal/domain/product"
)

const (
	productKeyPrefix = "product:"
	allProductsKey   = "products"
	storeKeyPrefix   = "store:"
)

// casScript commits ARGV[2] only when the stored record still carries the
// version in ARGV[1].
var casScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 'not_found'
end
local cur = cjson.decode(raw)
if tostring(cur.version) ~= ARGV[1] then
  return 'conflict'
end
redis.call('SET', KEYS[1], ARGV[2])
return 'ok'
`)

type storedRecord struct {
	ID          string         `json:"id"`
	StoreID     string         `json:"storeId"`
	Name        string         `json:"name"`
	Price       float64        `json:"price"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Quantity    int            `json:"quantity"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Version     uint64         `json:"version"`
}

type ProductRepository struct {
	client *redis.Client
}

func NewProductRepository(client *redis.Client) *ProductRepository {
	return &ProductRepository{client: client}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (domain.Record, error) {
	raw, err := r.client.Get(ctx, productKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("redis: get: %w", err)
	}
	return decodeRecord(raw)
}

func (r *ProductRepository) Put(ctx context.Context, p domain.Product) error {
	raw, err := encodeRecord(p, 1)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, productKeyPrefix+p.ID, raw, 0)
	pipe.SAdd(ctx, allProductsKey, p.ID)
	pipe.SAdd(ctx, storeKeyPrefix+p.StoreID, p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put: %w", err)
	}
	return nil
}

func (r *ProductRepository) ConditionalUpdate(ctx context.Context, id string, expectedVersion uint64, p domain.Product) (domain.Record, error) {
	nextVersion := expectedVersion + 1
	raw, err := encodeRecord(p, nextVersion)
	if err != nil {
		return domain.Record{}, err
	}

	res, err := casScript.Run(ctx, r.client,
		[]string{productKeyPrefix + id},
		fmt.Sprintf("%d", expectedVersion), string(raw),
	).Text()
	if err != nil {
		return domain.Record{}, fmt.Errorf("redis: conditional update: %w", err)
	}
	switch res {
	case "ok":
		return domain.Record{Product: *p.Clone(), Version: nextVersion}, nil
	case "conflict":
		return domain.Record{}, domain.ErrVersionConflict
	default:
		return domain.Record{}, domain.ErrNotFound
	}
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, productKeyPrefix+id)
	pipe.SRem(ctx, allProductsKey, id)
	pipe.SRem(ctx, storeKeyPrefix+rec.Product.StoreID, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete: %w", err)
	}
	return nil
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	return r.list(ctx, allProductsKey)
}

func (r *ProductRepository) ListByStore(ctx context.Context, storeID string) ([]domain.Product, error) {
	return r.list(ctx, storeKeyPrefix+storeID)
}

func (r *ProductRepository) list(ctx context.Context, setKey string) ([]domain.Product, error) {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list %s: %w", setKey, err)
	}
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// index member outlived the record; skip
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Product)
	}
	return out, nil
}

func encodeRecord(p domain.Product, version uint64) ([]byte, error) {
	raw, err := json.Marshal(storedRecord{
		ID:          p.ID,
		StoreID:     p.StoreID,
		Name:        p.Name,
		Price:       p.Price,
		Description: p.Description,
		Category:    p.Category,
		Quantity:    p.Quantity,
		Attributes:  p.Attributes,
		UpdatedAt:   p.UpdatedAt,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: encode record: %w", err)
	}
	return raw, nil
}

func decodeRecord(raw []byte) (domain.Record, error) {
	var sr storedRecord
	if err := json.Unmarshal(raw, &sr); err != nil {
		return domain.Record{}, fmt.Errorf("redis: decode record: %w", err)
	}
	return domain.Record{
		Product: domain.Product{
			ID:          sr.ID,
			StoreID:     sr.StoreID,
			Name:        sr.Name,
			Price:       sr.Price,
			Description: sr.Description,
			Category:    sr.Category,
			Quantity:    sr.Quantity,
			Attributes:  sr.Attributes,
			UpdatedAt:   sr.UpdatedAt,
		},
		Version: sr.Version,
	}, nil
}
