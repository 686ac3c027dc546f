package cache

import (
	"context"
	"sync"
	"time"

	"github.com/refnet/backend/internal/domain/shared"
)

const janitorInterval = 5 * time.Minute

// InMemoryIdempotencyStore tracks applied award IDs for single-instance
// deployments and tests. A janitor goroutine sweeps expired marks; reads
// treat an expired mark as absent regardless, so the sweep is only about
// memory.
type InMemoryIdempotencyStore struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates the store and starts its janitor.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		deadlines: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	go s.janitor()
	return s
}

// MarkApplied records an award ID for the TTL. It returns true when the
// mark is new and false when a live mark already exists.
func (s *InMemoryIdempotencyStore) MarkApplied(ctx context.Context, awardID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if deadline, ok := s.deadlines[awardID]; ok && now.Before(deadline) {
		return false, nil
	}
	s.deadlines[awardID] = now.Add(ttl)
	return true, nil
}

// IsApplied reports whether a live mark exists for the award ID.
func (s *InMemoryIdempotencyStore) IsApplied(ctx context.Context, awardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.deadlines[awardID]
	return ok && time.Now().Before(deadline), nil
}

// Size returns the number of marks currently held, expired ones included.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadlines)
}

// Close stops the janitor. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *InMemoryIdempotencyStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for awardID, deadline := range s.deadlines {
		if now.After(deadline) {
			delete(s.deadlines, awardID)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
