package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/siopa/stock-service/internal/infrastructure/id"
	"github.com/siopa/stock-service/internal/observability"
	"github.com/siopa/stock-service/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	serviceName       = "inventory-service"
	spanPrefix        = "SVC."
	defaultRetryLimit = 5
)

// CreateInput carries the caller-supplied fields for a new product.
type CreateInput struct {
	StoreID     string
	Name        string
	Price       float64
	Description string
	Category    string
	Quantity    int
	Attributes  map[string]any
}

// UpdateInput is a full-field replacement of an existing product. StoreID, if
// set, must match the stored value; ownership reassignment is not supported.
type UpdateInput struct {
	StoreID     string
	Name        string
	Price       float64
	Description string
	Category    string
	Quantity    int
	Attributes  map[string]any
}

// Service enforces the stock invariant. Every mutation goes through a
// read-compute-conditional-update loop so concurrent writers are serialized
// per product by the store's version token, never by a lock held across the
// whole operation.
type Service struct {
	repo       domain.Repository
	ids        id.Generator
	retryLimit int

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	casConflicts observability.Counter
}

func NewService(repo domain.Repository, ids id.Generator, tel observability.Observability, retryLimit int) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if retryLimit <= 0 {
		retryLimit = defaultRetryLimit
	}
	metrics := tel.Metrics()
	return &Service{
		repo:         repo,
		ids:          ids,
		retryLimit:   retryLimit,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		casConflicts: metrics.Counter(observability.MCASConflicts),
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Product, error) {
	const op = "inventory.create"
	ctx, done := s.begin(ctx, op, "")
	p := &domain.Product{
		ID:          s.ids.NewID(),
		StoreID:     in.StoreID,
		Name:        in.Name,
		Price:       in.Price,
		Description: in.Description,
		Category:    in.Category,
		Quantity:    in.Quantity,
		Attributes:  in.Attributes,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		done(err)
		return nil, err
	}
	if err := s.repo.Put(ctx, *p); err != nil {
		done(err)
		return nil, fmt.Errorf("inventory: put: %w", err)
	}
	done(nil)
	logctx.FromOr(ctx, s.log).Info("product_created",
		observability.F("product_id", p.ID),
		observability.F("store_id", p.StoreID),
		observability.F("quantity", p.Quantity),
	)
	return p, nil
}

func (s *Service) Get(ctx context.Context, productID string) (*domain.Product, error) {
	rec, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	p := rec.Product
	return &p, nil
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) ListByStore(ctx context.Context, storeID string) ([]domain.Product, error) {
	return s.repo.ListByStore(ctx, storeID)
}

func (s *Service) Update(ctx context.Context, productID string, in UpdateInput) (*domain.Product, error) {
	return s.mutate(ctx, "inventory.update", productID, func(cur *domain.Product) error {
		if in.StoreID != "" && in.StoreID != cur.StoreID {
			return fmt.Errorf("%w: store id is immutable", domain.ErrValidation)
		}
		cur.Name = in.Name
		cur.Price = in.Price
		cur.Description = in.Description
		cur.Category = in.Category
		cur.Quantity = in.Quantity
		cur.Attributes = in.Attributes
		cur.UpdatedAt = time.Now().UTC()
		return cur.Validate()
	})
}

func (s *Service) Delete(ctx context.Context, productID string) error {
	const op = "inventory.delete"
	ctx, done := s.begin(ctx, op, productID)
	err := s.repo.Delete(ctx, productID)
	done(err)
	if err != nil {
		return err
	}
	logctx.FromOr(ctx, s.log).Info("product_deleted",
		observability.F("product_id", productID),
	)
	return nil
}

// SetQuantity replaces the stock level with an absolute non-negative value.
func (s *Service) SetQuantity(ctx context.Context, productID string, quantity int) (*domain.Product, error) {
	return s.mutate(ctx, "inventory.set_quantity", productID, func(cur *domain.Product) error {
		return cur.SetQuantity(quantity)
	})
}

// DecrementQuantity reduces stock by amount. Insufficiency is evaluated
// against the quantity re-read inside the retry loop, so two concurrent
// decrements can never both commit against stock that covers only one.
func (s *Service) DecrementQuantity(ctx context.Context, productID string, amount int) (*domain.Product, error) {
	return s.mutate(ctx, "inventory.decrement_quantity", productID, func(cur *domain.Product) error {
		return cur.Decrement(amount)
	})
}

// mutate runs the optimistic-concurrency protocol: read current state, apply
// the computation to a copy, commit with a version-checked conditional update,
// and on conflict re-read and recompute, up to the retry limit.
func (s *Service) mutate(ctx context.Context, op string, productID string, apply func(*domain.Product) error) (*domain.Product, error) {
	ctx, done := s.begin(ctx, op, productID)

	for attempt := 0; attempt < s.retryLimit; attempt++ {
		rec, err := s.repo.Get(ctx, productID)
		if err != nil {
			done(err)
			return nil, err
		}

		next := rec.Product.Clone()
		if err := apply(next); err != nil {
			done(err)
			return nil, err
		}

		updated, err := s.repo.ConditionalUpdate(ctx, productID, rec.Version, *next)
		if err == nil {
			done(nil)
			p := updated.Product
			return &p, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			done(err)
			return nil, fmt.Errorf("inventory: conditional update: %w", err)
		}

		s.casConflicts.Add(1, observability.L("operation", op))
		if ctxErr := ctx.Err(); ctxErr != nil {
			done(ctxErr)
			return nil, ctxErr
		}
	}

	err := fmt.Errorf("%w: %s gave up after %d attempts", domain.ErrContention, op, s.retryLimit)
	done(err)
	return nil, err
}

// begin opens a span and returns a completion func that records the outcome
// metrics and a terminal log line.
func (s *Service) begin(ctx context.Context, op, productID string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{attribute.String("use_case", op)}
	if productID != "" {
		attrs = append(attrs, attribute.String("product.id", productID))
	}
	ctx, span := s.tracer.Start(ctx, spanPrefix+op, attrs...)
	start := time.Now()

	return ctx, func(err error) {
		outcome := outcomeFromError(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		latency := time.Since(start).Seconds()
		s.reqCounter.Add(1,
			observability.L("use_case", op),
			observability.L("outcome", outcome),
		)
		s.durHistogram.Observe(latency,
			observability.L("use_case", op),
		)

		if err != nil {
			logctx.FromOr(ctx, s.log).Warn("use_case_failed",
				observability.F("use_case", op),
				observability.F("product_id", productID),
				observability.F("outcome", outcome),
				observability.F("latency_seconds", latency),
				observability.F("error", err.Error()),
			)
		}
	}
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrContention):
		return "contention"
	default:
		return "error"
	}
}
