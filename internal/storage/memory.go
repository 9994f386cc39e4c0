package storage

import (
	"context"
	"sync"
)

// MemoryVisited is the in-process visited set used when no Redis address
// is configured.
type MemoryVisited struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryVisited() *MemoryVisited {
	return &MemoryVisited{seen: make(map[string]struct{})}
}

// Seen reports whether key was already recorded, recording it as a side
// effect.
func (s *MemoryVisited) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return true, nil
	}
	s.seen[key] = struct{}{}
	return false, nil
}
