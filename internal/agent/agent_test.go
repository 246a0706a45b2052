package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/credstore"
	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/identity"
	"github.com/Rorqualx/proxyauth/internal/types"
)

type fakeAuth struct{}

func (fakeAuth) Exchange(ctx context.Context, identityToken string) (*types.Session, error) {
	if identityToken != "T1" {
		return nil, types.NewAuthRejectedError("login", 401, "unknown identity")
	}
	return &types.Session{Token: "S1", Profile: types.NewProfile("a@b.com", "", []string{"1.2.3.4"})}, nil
}

func (fakeAuth) Verify(ctx context.Context, token string) (*types.Profile, error) {
	if token != "S1" {
		return nil, types.NewAuthRejectedError("verify", 401, "")
	}
	return types.NewProfile("a@b.com", "Alice", []string{"1.2.3.4"}), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ProxyScheme:    "http",
		ProxyHost:      "88.198.127.219",
		ProxyPort:      8080,
		DataDir:        t.TempDir(),
		Host:           "127.0.0.1",
		Port:           0,
		MessageTimeout: 5 * time.Second,
	}
}

func quiet() badge.Renderer {
	return badge.RendererFunc(func(badge.Marker) {})
}

// start runs a in the background and waits until it is listening.
func start(t *testing.T, a *Agent) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		cancelCtx()
		t.Fatalf("agent exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancelCtx()
		t.Fatal("agent did not become ready")
	}

	return func() {
		cancelCtx()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("agent did not stop")
		}
	}
}

func TestStartupRestoresSession(t *testing.T) {
	cfg := testConfig(t)
	store := credstore.NewMemoryStore()
	deps := BuildDeps(cfg, store, hostproxy.NewMemoryHost(), fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &types.Session{Token: "S1", Profile: types.NewProfile("a@b.com", "", nil)}))

	New(cfg, deps).Startup(ctx)

	got, _ := store.Get(ctx)
	assert.Equal(t, "Alice", got.Profile.Name, "startup refreshes the stored profile")
	assert.Equal(t, badge.Off, deps.Badge.Current())
}

func TestStartupClearsRejectedSession(t *testing.T) {
	cfg := testConfig(t)
	store := credstore.NewMemoryStore()
	deps := BuildDeps(cfg, store, hostproxy.NewMemoryHost(), fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &types.Session{Token: "stale", Profile: types.NewProfile("a@b.com", "", nil)}))

	New(cfg, deps).Startup(ctx)

	got, _ := store.Get(ctx)
	assert.True(t, got.Empty())
}

func TestStartupClearingSessionDisablesProxy(t *testing.T) {
	cfg := testConfig(t)
	store := credstore.NewMemoryStore()
	host := hostproxy.NewMemoryHost()
	deps := BuildDeps(cfg, store, host, fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &types.Session{Token: "stale", Profile: types.NewProfile("a@b.com", "", nil)}))
	require.NoError(t, deps.Proxy.ActivateDefault(ctx))

	stop := start(t, New(cfg, deps))
	defer stop()

	got, _ := store.Get(ctx)
	assert.True(t, got.Empty())
	active, _, err := deps.Proxy.CurrentlyActive(ctx)
	require.NoError(t, err)
	assert.False(t, active, "the proxy must not outlive the cleared session")
	_, clears := host.Calls()
	assert.GreaterOrEqual(t, clears, 1)
	assert.Equal(t, badge.Off, deps.Badge.Current())
}

func TestStartupWithoutSessionKeepsProxy(t *testing.T) {
	cfg := testConfig(t)
	host := hostproxy.NewMemoryHost()
	deps := BuildDeps(cfg, credstore.NewMemoryStore(), host, fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	ctx := context.Background()
	require.NoError(t, deps.Proxy.ActivateDefault(ctx))

	New(cfg, deps).Startup(ctx)

	active, _, err := deps.Proxy.CurrentlyActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	_, clears := host.Calls()
	assert.Zero(t, clears)
}

func TestRunListenFailureClosesReady(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	deps := BuildDeps(cfg, credstore.NewMemoryStore(), hostproxy.NewMemoryHost(), fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	a := New(cfg, deps)

	require.Error(t, a.Run(context.Background()))
	select {
	case <-a.Ready():
	default:
		t.Fatal("Ready not closed after listen failure")
	}
	assert.Empty(t, a.Addr())
}

func TestRunServesMessages(t *testing.T) {
	cfg := testConfig(t)
	deps := BuildDeps(cfg, credstore.NewMemoryStore(), hostproxy.NewMemoryHost(), fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	a := New(cfg, deps)
	stop := start(t, a)
	defer stop()

	require.NoError(t, deps.Proxy.ActivateDefault(context.Background()))

	body, _ := json.Marshal(types.Message{Action: types.ActionGetProxyStatus})
	resp, err := http.Post("http://"+a.Addr()+"/message", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out types.MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.IsProxySet)
	assert.True(t, *out.IsProxySet)
}

func TestTokenRemovalDisablesProxy(t *testing.T) {
	cfg := testConfig(t)
	store := credstore.NewMemoryStore()
	host := hostproxy.NewMemoryHost()
	deps := BuildDeps(cfg, store, host, fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	stop := start(t, New(cfg, deps))
	defer stop()

	ctx := context.Background()

	// The storage watcher registers asynchronously; repeat until it reacts.
	require.Eventually(t, func() bool {
		if _, err := deps.Sessions.Login(ctx, "T1"); err != nil {
			return false
		}
		if err := deps.Proxy.ActivateDefault(ctx); err != nil {
			return false
		}
		if _, err := deps.Sessions.Logout(ctx); err != nil {
			return false
		}
		active, _, err := deps.Proxy.CurrentlyActive(ctx)
		return err == nil && !active
	}, 5*time.Second, 50*time.Millisecond)

	_, clears := host.Calls()
	assert.GreaterOrEqual(t, clears, 1)
}

func TestTokenChangeWithoutRemovalKeepsProxy(t *testing.T) {
	cfg := testConfig(t)
	host := hostproxy.NewMemoryHost()
	deps := BuildDeps(cfg, credstore.NewMemoryStore(), host, fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	a := New(cfg, deps)
	ctx := context.Background()

	require.NoError(t, deps.Proxy.ActivateDefault(ctx))
	a.onStorageChange(ctx, credstore.Change{
		Old: &types.Session{},
		New: &types.Session{Token: "S1", Profile: types.NewProfile("a@b.com", "", nil)},
	})

	active, _, err := deps.Proxy.CurrentlyActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	_, clears := host.Calls()
	assert.Zero(t, clears)
}

func TestProxyFileChangeRefreshesBadge(t *testing.T) {
	cfg := testConfig(t)
	deps := FileDeps(cfg, fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	stop := start(t, New(cfg, deps))
	defer stop()

	// Another process (the CLI) turns the proxy on through the same file.
	other := hostproxy.NewFileHost(filepath.Join(cfg.DataDir, config.ProxyFileName))
	rule := cfg.ProxyRule()

	require.Eventually(t, func() bool {
		if err := other.Set(context.Background(), types.FixedServers(rule), types.ScopeRegular); err != nil {
			return false
		}
		return deps.Badge.Current() == badge.On
	}, 5*time.Second, 100*time.Millisecond)
}

func TestClientRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.AgentToken = "s3cret"
	deps := BuildDeps(cfg, credstore.NewMemoryStore(), hostproxy.NewMemoryHost(), fakeAuth{}, identity.NewMemoryProvider("T1"), quiet())
	a := New(cfg, deps)
	stop := start(t, a)
	defer stop()
	ctx := context.Background()

	client := NewClientForAddr(a.Addr(), cfg)

	resp, err := client.Send(ctx, types.Message{Action: types.ActionReportProxyError, Details: "refused"})
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Equal(t, badge.Error, deps.Badge.Current())

	resp, err = client.Send(ctx, types.Message{Action: types.ActionClickBadge})
	require.NoError(t, err)
	assert.Equal(t, badge.Blank, deps.Badge.Current())

	resp, err = client.Send(ctx, types.Message{Action: "nope"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown action", resp.Error)

	noToken := *cfg
	noToken.AgentToken = ""
	_, err = NewClientForAddr(a.Addr(), &noToken).Send(ctx, types.Message{Action: types.ActionClickBadge})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
