// Package agent runs the background agent: it restores the session on
// start, serves the message API, reacts to storage and proxy changes and
// shuts everything down together.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/credstore"
	"github.com/Rorqualx/proxyauth/internal/handlers"
	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/metrics"
	"github.com/Rorqualx/proxyauth/internal/proxyctl"
	"github.com/Rorqualx/proxyauth/internal/session"
	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// ProxyWatcher is implemented by proxy hosts that report setting changes.
type ProxyWatcher interface {
	Watch(ctx context.Context, fn func(types.ProxySettings)) error
}

// Deps are the collaborators the agent drives.
type Deps struct {
	Store    credstore.Store
	Host     hostproxy.Host
	Sessions *session.Orchestrator
	Proxy    *proxyctl.Controller
	Badge    *badge.Indicator
}

// Agent is the background agent.
type Agent struct {
	cfg  *config.Config
	deps Deps

	ready chan struct{}
	mu    sync.Mutex
	addr  string
}

// New creates an agent.
func New(cfg *config.Config, deps Deps) *Agent {
	return &Agent{
		cfg:   cfg,
		deps:  deps,
		ready: make(chan struct{}),
	}
}

// Ready is closed once the message API is listening, or when Run fails
// before it could listen.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the message API listen address, empty before Ready or when
// listening failed.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Startup restores the stored session and paints the badge. A failed
// restore is not fatal: the agent runs logged out with the proxy removed.
func (a *Agent) Startup(ctx context.Context) {
	ev, err := a.deps.RestoreSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Session restore failed, starting logged out")
	} else {
		log.Info().Str("state", ev.Kind.String()).Msg("Session restored on startup")
	}

	if _, err := a.deps.Badge.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial badge refresh failed")
	}
}

// Run starts the agent and blocks until ctx is cancelled or a component
// fails. All components are stopped before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.Startup(ctx)

	ln, err := net.Listen("tcp", net.JoinHostPort(a.cfg.Host, fmt.Sprint(a.cfg.Port)))
	if err != nil {
		close(a.ready)
		return fmt.Errorf("failed to listen on %s:%d: %w", a.cfg.Host, a.cfg.Port, err)
	}

	h := handlers.New(a.deps.Sessions, a.deps.Proxy, a.deps.Badge)
	server := &http.Server{
		Handler:      handlers.NewRouter(h, a.cfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: a.cfg.MessageTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.mu.Lock()
		a.addr = ln.Addr().String()
		a.mu.Unlock()
		close(a.ready)

		log.Info().
			Str("address", ln.Addr().String()).
			Str("version", version.Full()).
			Bool("metrics_enabled", a.cfg.PrometheusEnabled).
			Bool("agent_token", a.cfg.AgentToken != "").
			Msg("Agent is ready to accept messages")

		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("message server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Message server shutdown error")
		}
		return nil
	})

	if a.cfg.PrometheusEnabled {
		a.runMetrics(gctx, g)
	}

	if w, ok := a.deps.Store.(credstore.Watcher); ok {
		g.Go(func() error {
			return w.Watch(gctx, func(c credstore.Change) { a.onStorageChange(gctx, c) })
		})
	}

	if w, ok := a.deps.Host.(ProxyWatcher); ok {
		g.Go(func() error {
			return w.Watch(gctx, func(types.ProxySettings) { a.onProxyChange(gctx) })
		})
	}

	err = g.Wait()
	a.deps.Badge.Stop()
	log.Info().Msg("Agent stopped")
	return err
}

func (a *Agent) runMetrics(ctx context.Context, g *errgroup.Group) {
	metrics.SetBuildInfo(version.Full(), version.GoVersion())

	stopCh := make(chan struct{})
	go metrics.StartMemoryCollector(10*time.Second, stopCh)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:         net.JoinHostPort(a.cfg.Host, fmt.Sprint(a.cfg.PrometheusPort)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Int("port", a.cfg.PrometheusPort).Msg("Prometheus metrics server started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		close(stopCh)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
		return nil
	})
}

// onStorageChange removes the proxy once the stored token disappears,
// whoever removed it.
func (a *Agent) onStorageChange(ctx context.Context, c credstore.Change) {
	if !c.TokenRemoved() {
		return
	}
	a.deps.disableProxy(ctx)
	if _, err := a.deps.Badge.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Badge refresh after logout failed")
	}
}

func (a *Agent) onProxyChange(ctx context.Context) {
	if _, err := a.deps.Badge.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Badge refresh after proxy change failed")
	}
}
