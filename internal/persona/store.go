package persona

import (
	"context"
	"errors"
	"sync"
)

// ErrMiss is returned when a user has no persona set
var ErrMiss = errors.New("persona: not set")

// Store keeps the persona each user selected with /persona
type Store interface {
	Get(ctx context.Context, userID int64) (string, error)
	Set(ctx context.Context, userID int64, persona string) error
	Clear(ctx context.Context, userID int64) error
	Close() error
}

// Resolve returns the user's persona, or fallback when none is set or the store fails
func Resolve(ctx context.Context, s Store, userID int64, fallback string) string {
	p, err := s.Get(ctx, userID)
	if err != nil || p == "" {
		return fallback
	}
	return p
}

// MemoryStore keeps personas in process memory. Used when Redis is not configured.
type MemoryStore struct {
	mu       sync.RWMutex
	personas map[int64]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{personas: make(map[int64]string)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, userID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[userID]
	if !ok {
		return "", ErrMiss
	}
	return p, nil
}

func (m *MemoryStore) Set(ctx context.Context, userID int64, persona string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personas[userID] = persona
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.personas, userID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
