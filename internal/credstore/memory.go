package credstore

import (
	"context"
	"sync"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// MemoryStore is a thread-safe in-memory credential store.
type MemoryStore struct {
	mu        sync.RWMutex
	session   *types.Session
	listeners map[int]func(Change)
	nextID    int
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		session:   &types.Session{},
		listeners: make(map[int]func(Change)),
	}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(ctx context.Context) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.session), nil
}

// Set replaces the stored session.
func (m *MemoryStore) Set(ctx context.Context, s *types.Session) error {
	if err := validate(s); err != nil {
		return types.NewHostError("storage", "set", err)
	}
	m.replace(clone(s))
	return nil
}

// Clear removes the stored session.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.replace(&types.Session{})
	return nil
}

// Watch calls fn for every change until ctx is done.
func (m *MemoryStore) Watch(ctx context.Context, fn func(Change)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.listeners, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) replace(next *types.Session) {
	m.mu.Lock()
	old := m.session
	m.session = next
	listeners := make([]func(Change), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if sameSession(old, next) {
		return
	}
	change := Change{Old: clone(old), New: clone(next)}
	for _, fn := range listeners {
		fn(change)
	}
}
