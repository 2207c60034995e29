package queue

import (
	"context"
	"sync"

	"github.com/vietddude/resilient/internal/core/domain"
)

// MemoryStore is the non-durable fallback used when no storage backend is
// configured. Queued operations do not survive a process restart.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*domain.QueuedOperation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*domain.QueuedOperation)}
}

func (s *MemoryStore) Save(ctx context.Context, op *domain.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*domain.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		cp := *op
		out = append(out, &cp)
	}
	return out, nil
}
