package identity

import (
	"context"
	"sync"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// MemoryProvider is an in-memory Provider for tests.
type MemoryProvider struct {
	mu        sync.Mutex
	token     string
	tokenErr  error
	removeErr error
	removed   int
}

// NewMemoryProvider returns a provider that hands out token.
func NewMemoryProvider(token string) *MemoryProvider {
	return &MemoryProvider{token: token}
}

// Token implements Provider.
func (m *MemoryProvider) Token(ctx context.Context, interactive bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokenErr != nil {
		return "", types.NewHostError("identity", "get", m.tokenErr)
	}
	if m.token == "" {
		return "", types.NewHostError("identity", "get", types.ErrNoIdentityToken)
	}
	return m.token, nil
}

// RemoveCachedToken implements Provider.
func (m *MemoryProvider) RemoveCachedToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removed++
	if m.removeErr != nil {
		return types.NewHostError("identity", "remove", m.removeErr)
	}
	m.token = ""
	return nil
}

// FailToken makes subsequent Token calls fail with err.
func (m *MemoryProvider) FailToken(err error) {
	m.mu.Lock()
	m.tokenErr = err
	m.mu.Unlock()
}

// FailRemove makes subsequent RemoveCachedToken calls fail with err.
func (m *MemoryProvider) FailRemove(err error) {
	m.mu.Lock()
	m.removeErr = err
	m.mu.Unlock()
}

// Removed reports how many times RemoveCachedToken was called.
func (m *MemoryProvider) Removed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}
