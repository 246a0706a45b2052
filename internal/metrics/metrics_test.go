package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestHandler(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}

	SetSessionActive(true)
	SetProxyActive(false)

	body := scrape(t)
	for _, metric := range []string{
		"proxyauth_session_active 1",
		"proxyauth_proxy_active 0",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected %q in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	body := scrape(t)
	if !strings.Contains(body, "proxyauth_build_info") {
		t.Error("Expected proxyauth_build_info metric")
	}
	if !strings.Contains(body, "version=\"1.0.0\"") {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, "go_version=\"go1.24\"") {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordMessage(t *testing.T) {
	RecordMessage("getProxyStatus", "ok", 10*time.Millisecond)
	RecordMessage("bogus", "error", time.Millisecond)

	body := scrape(t)
	if !strings.Contains(body, `proxyauth_messages_total{action="getProxyStatus",status="ok"}`) {
		t.Error("Expected proxyauth_messages_total for getProxyStatus")
	}
	if !strings.Contains(body, "proxyauth_message_duration_seconds") {
		t.Error("Expected proxyauth_message_duration_seconds metric")
	}
}

func TestRecordAuthAndProxy(t *testing.T) {
	RecordAuth("verify", "rejected")
	RecordProxyChange("activate", true)
	RecordProxyChange("deactivate", false)
	RecordProxyError()

	body := scrape(t)
	for _, metric := range []string{
		`proxyauth_auth_requests_total{op="verify",outcome="rejected"}`,
		`proxyauth_proxy_changes_total{op="activate",result="ok"}`,
		`proxyauth_proxy_changes_total{op="deactivate",result="error"}`,
		"proxyauth_proxy_errors_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected %q in output", metric)
		}
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	body := scrape(t)
	if !strings.Contains(body, "proxyauth_memory_usage_bytes") {
		t.Error("Expected proxyauth_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "proxyauth_goroutines") {
		t.Error("Expected proxyauth_goroutines metric")
	}
}
