package product

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("product: not found")
	ErrValidation        = errors.New("product: invalid input")
	ErrInsufficientStock = errors.New("product: insufficient stock")
	ErrVersionConflict   = errors.New("product: version conflict")
	ErrContention        = errors.New("product: write contention")
)

// Product is the per-store catalog entry whose Quantity is mutated
// concurrently by API callers and fulfillment events. ID and StoreID are
// immutable after creation.
type Product struct {
	ID          string
	StoreID     string
	Name        string
	Price       float64
	Description string
	Category    string
	Quantity    int
	Attributes  map[string]any
	UpdatedAt   time.Time
}

func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if strings.TrimSpace(p.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrValidation)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be >= 0", ErrValidation)
	}
	return nil
}

// SetQuantity replaces the stock level with an absolute value.
func (p *Product) SetQuantity(quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must be >= 0", ErrValidation)
	}
	p.Quantity = quantity
	p.touch()
	return nil
}

// Decrement reduces stock by amount. Insufficiency is judged against the
// quantity currently held on the receiver, so callers must work from a
// freshly read record.
func (p *Product) Decrement(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: decrement amount must be positive", ErrValidation)
	}
	if amount > p.Quantity {
		return ErrInsufficientStock
	}
	p.Quantity -= amount
	p.touch()
	return nil
}

// Clone returns a deep copy so repository snapshots never alias caller state.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Attributes != nil {
		clone.Attributes = make(map[string]any, len(p.Attributes))
		for k, v := range p.Attributes {
			clone.Attributes[k] = v
		}
	}
	return &clone
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}
