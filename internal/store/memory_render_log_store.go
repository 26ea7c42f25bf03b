package store

import (
	"context"
	"sync"

	"github.com/dunamismax/pixelproxy/internal/domain"
)

// MemoryRenderLogStore keeps the most recent records in a fixed-size ring.
type MemoryRenderLogStore struct {
	mu      sync.RWMutex
	entries []domain.RenderLog
	next    int
	full    bool
}

func NewMemoryRenderLogStore(capacity int) *MemoryRenderLogStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRenderLogStore{
		entries: make([]domain.RenderLog, capacity),
	}
}

func (s *MemoryRenderLogStore) Record(_ context.Context, entry domain.RenderLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *MemoryRenderLogStore) Recent(_ context.Context, limit int) ([]domain.RenderLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.entries)
	}
	limit = min(normalizeLimit(limit), size)

	out := make([]domain.RenderLog, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}
