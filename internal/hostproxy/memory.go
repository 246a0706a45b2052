package hostproxy

import (
	"context"
	"sync"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// MemoryHost is an in-memory Host with injectable failures, for tests.
type MemoryHost struct {
	mu       sync.Mutex
	settings types.ProxySettings
	getErr   error
	setErr   error
	clearErr error
	sets     int
	clears   int
}

// NewMemoryHost returns a host reporting system settings.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{settings: types.SystemSettings()}
}

// Get implements Host.
func (m *MemoryHost) Get(ctx context.Context) (types.ProxySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return types.ProxySettings{}, types.NewHostError("proxy", "get", m.getErr)
	}
	return m.settings, nil
}

// Set implements Host.
func (m *MemoryHost) Set(ctx context.Context, settings types.ProxySettings, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return types.NewHostError("proxy", "set", m.setErr)
	}
	if err := checkScope(scope); err != nil {
		return types.NewHostError("proxy", "set", err)
	}
	m.settings = settings
	return nil
}

// Clear implements Host.
func (m *MemoryHost) Clear(ctx context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	if m.clearErr != nil {
		return types.NewHostError("proxy", "clear", m.clearErr)
	}
	if err := checkScope(scope); err != nil {
		return types.NewHostError("proxy", "clear", err)
	}
	m.settings = types.SystemSettings()
	return nil
}

// Put replaces the current settings directly, as another extension or the
// user would.
func (m *MemoryHost) Put(settings types.ProxySettings) {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
}

// Fail sets the errors returned by Get, Set and Clear. Nil restores success.
func (m *MemoryHost) Fail(getErr, setErr, clearErr error) {
	m.mu.Lock()
	m.getErr, m.setErr, m.clearErr = getErr, setErr, clearErr
	m.mu.Unlock()
}

// Calls reports how many Set and Clear calls were made.
func (m *MemoryHost) Calls() (sets, clears int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets, m.clears
}
