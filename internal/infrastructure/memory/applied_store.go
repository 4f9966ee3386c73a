package memory

import (
	"context"
	"sync"
)

// AppliedStore remembers delivery identifiers of fulfillment events that have
// already been applied, so redeliveries become no-ops.
type AppliedStore struct {
	mu      sync.Mutex
	applied map[string]struct{}
}

func NewAppliedStore() *AppliedStore {
	return &AppliedStore{applied: make(map[string]struct{})}
}

func (s *AppliedStore) Seen(ctx context.Context, deliveryID string) (bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[deliveryID]
	return ok, nil
}

// Record marks a delivery as applied. Recording twice is harmless.
func (s *AppliedStore) Record(ctx context.Context, deliveryID string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[deliveryID] = struct{}{}
	return nil
}
