package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// backend serves fixed replies per path and records request bodies.
type backend struct {
	mu      sync.Mutex
	status  map[string]int
	replies map[string]string
	bodies  map[string]map[string]any
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{
		status:  map[string]int{},
		replies: map[string]string{},
		bodies:  map[string]map[string]any{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		b.bodies[r.URL.Path] = body
		status := b.status[r.URL.Path]
		reply := b.replies[r.URL.Path]
		b.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) body(path string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

func TestExchangeSuccess(t *testing.T) {
	b, srv := newBackend(t)
	b.replies[LoginPath] = `{"success":true,"token":"S1","email":"a@b.com","ips":["1.2.3.4"]}`

	c := New(srv.URL, 5*time.Second)
	s, err := c.Exchange(context.Background(), "G")
	require.NoError(t, err)

	assert.Equal(t, "S1", s.Token)
	assert.Equal(t, "a@b.com", s.Profile.Email)
	assert.Equal(t, "a", s.Profile.Name, "name falls back to email local part")
	assert.Equal(t, []string{"1.2.3.4"}, s.Profile.IPs)
	assert.Equal(t, "G", b.body(LoginPath)["google_token"])
}

func TestExchangeWithoutIPs(t *testing.T) {
	b, srv := newBackend(t)
	b.replies[LoginPath] = `{"success":true,"token":"S1","email":"a@b.com","name":"Alice"}`

	s, err := New(srv.URL, 5*time.Second).Exchange(context.Background(), "G")
	require.NoError(t, err)
	assert.Equal(t, "Alice", s.Profile.Name)
	assert.NotNil(t, s.Profile.IPs)
	assert.Empty(t, s.Profile.IPs)
}

func TestExchangeRejected(t *testing.T) {
	b, srv := newBackend(t)
	b.status[LoginPath] = http.StatusUnauthorized
	b.replies[LoginPath] = `{"success":false,"error":"user not allowed"}`

	_, err := New(srv.URL, 5*time.Second).Exchange(context.Background(), "G")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthRejected))

	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Contains(t, authErr.Error(), "user not allowed")
}

func TestExchangeEmptyIdentityToken(t *testing.T) {
	_, err := New("http://127.0.0.1:1", time.Second).Exchange(context.Background(), "")
	assert.True(t, errors.Is(err, types.ErrAuthRejected))
}

func TestExchangeMissingToken(t *testing.T) {
	b, srv := newBackend(t)
	b.replies[LoginPath] = `{"success":true,"email":"a@b.com"}`

	_, err := New(srv.URL, 5*time.Second).Exchange(context.Background(), "G")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNetworkFailure))
}

func TestVerifySuccess(t *testing.T) {
	b, srv := newBackend(t)
	b.replies[VerifyPath] = `{"success":true,"email":"a@b.com","name":"Alice","ips":["1.2.3.4","5.6.7.8"]}`

	p, err := New(srv.URL, 5*time.Second).Verify(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, p.IPs)
	assert.Equal(t, "S1", b.body(VerifyPath)["token"])
}

func TestVerifyInvalidToken(t *testing.T) {
	b, srv := newBackend(t)
	b.replies[VerifyPath] = `{"success":false}`

	_, err := New(srv.URL, 5*time.Second).Verify(context.Background(), "S1")
	require.Error(t, err)
	assert.True(t, types.IsInvalidSession(err))
	assert.False(t, errors.Is(err, types.ErrNetworkFailure))
}

func TestNonJSONResponseIsNetworkFailure(t *testing.T) {
	b, srv := newBackend(t)
	b.status[VerifyPath] = http.StatusBadGateway
	b.replies[VerifyPath] = `<html>bad gateway</html>`

	_, err := New(srv.URL, 5*time.Second).Verify(context.Background(), "S1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNetworkFailure))
	assert.False(t, types.IsInvalidSession(err))
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Verify(context.Background(), "S1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNetworkFailure))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := New(srv.URL, 100*time.Millisecond).Verify(context.Background(), "S1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNetworkFailure))
	assert.Less(t, time.Since(start), time.Second)
}

func TestContextCancelled(t *testing.T) {
	_, srv := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL, 5*time.Second).Verify(ctx, "S1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNetworkFailure))
}
