package agent

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/credstore"
	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/identity"
	"github.com/Rorqualx/proxyauth/internal/proxyctl"
	"github.com/Rorqualx/proxyauth/internal/session"
)

// FileDeps wires the file-backed store and proxy host under cfg.DataDir.
func FileDeps(cfg *config.Config, auth session.Authenticator, ident identity.Provider, renderer badge.Renderer) Deps {
	return BuildDeps(cfg,
		credstore.NewFileStore(cfg.StoragePath()),
		hostproxy.NewFileHost(cfg.ProxyPath()),
		auth, ident, renderer)
}

// BuildDeps wires the orchestrator, controller and indicator around the
// given capabilities.
func BuildDeps(cfg *config.Config, store credstore.Store, host hostproxy.Host, auth session.Authenticator, ident identity.Provider, renderer badge.Renderer) Deps {
	proxy := proxyctl.New(host, cfg.ProxyRule())
	return Deps{
		Store:    store,
		Host:     host,
		Sessions: session.New(store, auth, ident),
		Proxy:    proxy,
		Badge:    badge.New(proxy, renderer, cfg.BadgeErrorAutoClear),
	}
}

// RestoreSession restores the stored session. When the restore clears a
// stored token the proxy is removed, as for any other token removal.
func (d Deps) RestoreSession(ctx context.Context) (session.Event, error) {
	before, readErr := d.Store.Get(ctx)
	ev, err := d.Sessions.RestoreSession(ctx)
	if readErr != nil {
		return ev, err
	}

	after, readErr := d.Store.Get(ctx)
	if readErr == nil && (credstore.Change{Old: before, New: after}).TokenRemoved() {
		d.disableProxy(ctx)
	}
	return ev, err
}

func (d Deps) disableProxy(ctx context.Context) {
	log.Info().Msg("Session token removed, disabling proxy")
	if err := d.Proxy.Deactivate(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to disable proxy after logout")
	}
}
