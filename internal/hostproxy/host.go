// Package hostproxy provides the host proxy-settings capability and helpers
// that apply a fixed-server rule outside the host (routing checks, proxy
// environment variables, an installable browser extension).
package hostproxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/jsonfile"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// Host is the host proxy-settings capability.
type Host interface {
	// Get returns the effective proxy configuration.
	Get(ctx context.Context) (types.ProxySettings, error)
	// Set installs settings at scope.
	Set(ctx context.Context, settings types.ProxySettings, scope string) error
	// Clear removes any settings installed at scope.
	Clear(ctx context.Context, scope string) error
}

// record is the on-disk layout of FileHost.
type record struct {
	Scope string              `json:"scope"`
	Value types.ProxySettings `json:"value"`
}

// FileHost keeps the regular-scope proxy settings in a JSON file so every
// proxyauth process (agent, popup, CLI) sees the same configuration.
type FileHost struct {
	path string
	mu   sync.Mutex
}

// NewFileHost creates a host backed by path.
func NewFileHost(path string) *FileHost {
	return &FileHost{path: path}
}

// Path returns the backing file path.
func (h *FileHost) Path() string {
	return h.path
}

// Get implements Host. With no file the host reports system settings.
func (h *FileHost) Get(ctx context.Context) (types.ProxySettings, error) {
	var rec record
	ok, err := jsonfile.Read(h.path, &rec)
	if err != nil {
		return types.ProxySettings{}, types.NewHostError("proxy", "get", err)
	}
	if !ok || rec.Value.Mode == "" {
		return types.SystemSettings(), nil
	}
	return rec.Value, nil
}

// Set implements Host.
func (h *FileHost) Set(ctx context.Context, settings types.ProxySettings, scope string) error {
	if err := checkScope(scope); err != nil {
		return types.NewHostError("proxy", "set", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := jsonfile.Write(h.path, record{Scope: scope, Value: settings}); err != nil {
		return types.NewHostError("proxy", "set", err)
	}
	return nil
}

// Clear implements Host.
func (h *FileHost) Clear(ctx context.Context, scope string) error {
	if err := checkScope(scope); err != nil {
		return types.NewHostError("proxy", "clear", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := jsonfile.Remove(h.path); err != nil {
		return types.NewHostError("proxy", "clear", err)
	}
	return nil
}

// Watch calls fn with the new settings whenever the file changes. It blocks
// until ctx is done.
func (h *FileHost) Watch(ctx context.Context, fn func(types.ProxySettings)) error {
	return jsonfile.Watch(ctx, h.path, func() {
		settings, err := h.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Str("path", h.path).Msg("Failed to re-read proxy settings")
			return
		}
		fn(settings)
	})
}

func checkScope(scope string) error {
	if scope != types.ScopeRegular {
		return fmt.Errorf("unsupported scope %q", scope)
	}
	return nil
}
