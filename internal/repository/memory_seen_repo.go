package repository

import (
	"context"
	"sync"
	"time"
)

// MemorySeenRepository is the in-process SeenRepository.
// Expired entries are swept lazily on every call.
type MemorySeenRepository struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time

	// MarkSeenErr, when set, is returned by MarkSeen to simulate store outages in tests.
	MarkSeenErr error
}

func NewMemorySeenRepository() *MemorySeenRepository {
	return &MemorySeenRepository{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemorySeenRepository) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if m.MarkSeenErr != nil {
		return false, m.MarkSeenErr
	}
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}

	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *MemorySeenRepository) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports live entries.
func (m *MemorySeenRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ SeenRepository = (*MemorySeenRepository)(nil)
