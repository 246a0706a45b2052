package hostproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

var testRule = types.ProxyRule{
	Scheme:     "http",
	Host:       "88.198.127.219",
	Port:       8080,
	BypassList: []string{"localhost", "127.0.0.1", "*.internal.example"},
}

func TestFileHostDefaultsToSystem(t *testing.T) {
	h := NewFileHost(filepath.Join(t.TempDir(), "proxy.json"))
	got, err := h.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Mode != types.ModeSystem {
		t.Errorf("Get().Mode = %q, want system", got.Mode)
	}
}

func TestFileHostSetGetClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	h := NewFileHost(path)
	ctx := context.Background()

	if err := h.Set(ctx, types.FixedServers(testRule), types.ScopeRegular); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := h.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Matches(testRule) {
		t.Errorf("Get() = %+v, want settings matching the rule", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("stored file is not JSON: %v", err)
	}
	if rec["scope"] != "regular" {
		t.Errorf("stored scope = %v, want regular", rec["scope"])
	}

	if err := h.Clear(ctx, types.ScopeRegular); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, _ = h.Get(ctx)
	if got.Mode != types.ModeSystem {
		t.Errorf("after Clear, Mode = %q, want system", got.Mode)
	}
}

func TestFileHostRejectsOtherScopes(t *testing.T) {
	h := NewFileHost(filepath.Join(t.TempDir(), "proxy.json"))
	err := h.Set(context.Background(), types.FixedServers(testRule), "incognito_persistent")
	if !errors.Is(err, types.ErrHostCapability) {
		t.Errorf("Set() error = %v, want host capability error", err)
	}
}

func TestFileHostCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	if err := os.WriteFile(path, []byte("]"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileHost(path).Get(context.Background())
	if !errors.Is(err, types.ErrHostCapability) {
		t.Errorf("Get() error = %v, want host capability error", err)
	}
}

func TestFileHostWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	h := NewFileHost(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan types.ProxySettings, 4)
	go func() {
		_ = h.Watch(ctx, func(s types.ProxySettings) { changes <- s })
	}()
	time.Sleep(200 * time.Millisecond)

	if err := NewFileHost(path).Set(context.Background(), types.FixedServers(testRule), types.ScopeRegular); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case s := <-changes:
		if !s.Matches(testRule) {
			t.Errorf("watched settings = %+v, want rule", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for proxy change")
	}
}

func TestMemoryHostFailures(t *testing.T) {
	h := NewMemoryHost()
	ctx := context.Background()
	boom := errors.New("boom")

	h.Fail(nil, boom, nil)
	if err := h.Set(ctx, types.FixedServers(testRule), types.ScopeRegular); !errors.Is(err, boom) {
		t.Errorf("Set() error = %v, want boom", err)
	}
	if got, _ := h.Get(ctx); got.Mode != types.ModeSystem {
		t.Errorf("failed Set must not change settings, got %q", got.Mode)
	}

	h.Fail(nil, nil, nil)
	if err := h.Set(ctx, types.FixedServers(testRule), types.ScopeRegular); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	sets, clears := h.Calls()
	if sets != 2 || clears != 0 {
		t.Errorf("Calls() = %d, %d; want 2, 0", sets, clears)
	}
}

func TestRoute(t *testing.T) {
	settings := types.FixedServers(testRule)

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"proxied http", "http://example.com/", "http://88.198.127.219:8080"},
		{"proxied https", "https://example.com/", "http://88.198.127.219:8080"},
		{"bypass localhost", "http://localhost:3000/", ""},
		{"bypass loopback", "http://127.0.0.1/", ""},
		{"bypass wildcard", "https://api.internal.example/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, _ := url.Parse(tt.target)
			got, err := Route(settings, target)
			if err != nil {
				t.Fatalf("Route() error = %v", err)
			}
			gotStr := ""
			if got != nil {
				gotStr = got.String()
			}
			if gotStr != tt.want {
				t.Errorf("Route(%s) = %q, want %q", tt.target, gotStr, tt.want)
			}
		})
	}
}

func TestRouteDirectWhenNotFixed(t *testing.T) {
	target, _ := url.Parse("http://example.com/")
	got, err := Route(types.SystemSettings(), target)
	if err != nil || got != nil {
		t.Errorf("Route(system) = %v, %v; want nil, nil", got, err)
	}
}

func TestEnvironment(t *testing.T) {
	env := Environment(types.FixedServers(testRule))
	joined := strings.Join(env, "\n")

	for _, want := range []string{
		"HTTP_PROXY=http://88.198.127.219:8080",
		"HTTPS_PROXY=http://88.198.127.219:8080",
		"NO_PROXY=localhost,127.0.0.1,.internal.example",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Environment() missing %q in:\n%s", want, joined)
		}
	}

	if Environment(types.SystemSettings()) != nil {
		t.Error("Environment(system) should be nil")
	}
}

func TestNoProxy(t *testing.T) {
	got := noProxy([]string{" localhost ", "<local>", "*.corp", "", "10.0.0.0/8"})
	if got != "localhost,.corp,10.0.0.0/8" {
		t.Errorf("noProxy() = %q", got)
	}
}

func TestExtensionFiles(t *testing.T) {
	ext, err := NewExtension("", testRule)
	if err != nil {
		t.Fatalf("NewExtension() error = %v", err)
	}
	defer ext.Cleanup()

	dirInfo, err := os.Stat(ext.Dir())
	if err != nil {
		t.Fatalf("Failed to stat directory: %v", err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Errorf("Directory permissions should be 0700, got %o", dirInfo.Mode().Perm())
	}

	for _, name := range []string{"manifest.json", "background.js"} {
		info, err := os.Stat(filepath.Join(ext.Dir(), name))
		if err != nil {
			t.Fatalf("Failed to stat %s: %v", name, err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("%s permissions should be 0600, got %o", name, info.Mode().Perm())
		}
	}

	manifestData, _ := os.ReadFile(filepath.Join(ext.Dir(), "manifest.json"))
	var manifest map[string]any
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("manifest.json is not valid JSON: %v", err)
	}
	if manifest["manifest_version"] != float64(3) {
		t.Errorf("manifest_version = %v, want 3", manifest["manifest_version"])
	}

	script, _ := os.ReadFile(filepath.Join(ext.Dir(), "background.js"))
	for _, want := range []string{
		`"mode": "fixed_servers"`,
		`"host": "88.198.127.219"`,
		`"port": 8080`,
		`scope: "regular"`,
		"chrome.proxy.onProxyError.addListener",
	} {
		if !strings.Contains(string(script), want) {
			t.Errorf("background.js missing %q", want)
		}
	}
}

func TestExtensionEscapesHost(t *testing.T) {
	rule := testRule
	rule.BypassList = []string{`evil"); alert(1); ("`}

	ext, err := NewExtension(filepath.Join(t.TempDir(), "ext"), rule)
	if err != nil {
		t.Fatalf("NewExtension() error = %v", err)
	}
	defer ext.Cleanup()

	script, _ := os.ReadFile(filepath.Join(ext.Dir(), "background.js"))
	escaped, _ := json.Marshal(rule.BypassList[0])
	if !strings.Contains(string(script), string(escaped)) {
		t.Errorf("bypass entry not JSON-escaped in script:\n%s", script)
	}
}

func TestExtensionCleanupKeepsChosenDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ext")
	ext, err := NewExtension(dir, testRule)
	if err != nil {
		t.Fatalf("NewExtension() error = %v", err)
	}
	ext.Cleanup()
	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
		t.Errorf("Cleanup removed a caller-chosen directory: %v", err)
	}
}

func TestExtensionKeepsExistingDirMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := NewExtension(dir, testRule); err != nil {
		t.Fatalf("NewExtension() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0755 {
		t.Errorf("existing directory mode changed to %o, want 755", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
		t.Errorf("manifest.json not written: %v", err)
	}
}

func TestExtensionCreatedDirIsPrivate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "ext")
	if _, err := NewExtension(dir, testRule); err != nil {
		t.Fatalf("NewExtension() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("created directory mode = %o, want 700", perm)
	}
}

func TestManifestVersion(t *testing.T) {
	saved := version.Version
	defer func() { version.Version = saved }()

	tests := map[string]string{
		"":              "0.0.0",
		"dev":           "0.0.0",
		"1.2.3":         "1.2.3",
		"v1.2.3":        "1.2.3",
		"v1.2.3-rc1":    "1.2.3",
		"1.2.3+meta":    "1.2.3",
		"v2.0.0-3-gabc": "2.0.0",
		"1.2.3.4.5":     "1.2.3.4",
		"snapshot":      "0.0.0",
	}
	for in, want := range tests {
		version.Version = in
		if got := manifestVersion(); got != want {
			t.Errorf("manifestVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtensionInvalidRule(t *testing.T) {
	_, err := NewExtension("", types.ProxyRule{Scheme: "ftp", Host: "h", Port: 1})
	if !errors.Is(err, types.ErrInvalidRule) {
		t.Errorf("NewExtension() error = %v, want ErrInvalidRule", err)
	}
}
