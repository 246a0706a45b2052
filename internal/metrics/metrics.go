// Package metrics provides Prometheus metrics for monitoring proxyauth.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts message API requests by action and status.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyauth_messages_total",
			Help: "Total number of messages processed",
		},
		[]string{"action", "status"},
	)

	// MessageDuration tracks message handling duration by action.
	MessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxyauth_message_duration_seconds",
			Help:    "Message handling duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"action"},
	)

	// AuthRequestsTotal counts backend calls by operation and outcome.
	AuthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyauth_auth_requests_total",
			Help: "Total auth backend calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// SessionActive is 1 while a session token is stored.
	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxyauth_session_active",
			Help: "Whether a session is currently stored (1) or not (0)",
		},
	)

	// ProxyActive is 1 while the configured proxy rule is in effect.
	ProxyActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxyauth_proxy_active",
			Help: "Whether the configured proxy is active (1) or not (0)",
		},
	)

	// ProxyChangesTotal counts activate/deactivate calls by result.
	ProxyChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyauth_proxy_changes_total",
			Help: "Total proxy activate/deactivate calls by result",
		},
		[]string{"op", "result"},
	)

	// ProxyErrorsTotal counts reported proxy errors.
	ProxyErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxyauth_proxy_errors_total",
			Help: "Total proxy errors reported to the status indicator",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxyauth_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxyauth_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxyauth_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		MessageDuration,
		AuthRequestsTotal,
		SessionActive,
		ProxyActive,
		ProxyChangesTotal,
		ProxyErrorsTotal,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates memory metrics until stopCh is closed.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordMessage records metrics for a handled message.
func RecordMessage(action, status string, duration time.Duration) {
	MessagesTotal.WithLabelValues(action, status).Inc()
	MessageDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAuth records a backend call outcome ("ok", "rejected", "network").
func RecordAuth(op, outcome string) {
	AuthRequestsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordProxyChange records an activate or deactivate call.
func RecordProxyChange(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	ProxyChangesTotal.WithLabelValues(op, result).Inc()
}

// RecordProxyError counts a reported proxy error.
func RecordProxyError() {
	ProxyErrorsTotal.Inc()
}

// SetSessionActive updates the session gauge.
func SetSessionActive(active bool) {
	SessionActive.Set(boolToFloat(active))
}

// SetProxyActive updates the proxy gauge.
func SetProxyActive(active bool) {
	ProxyActive.Set(boolToFloat(active))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
