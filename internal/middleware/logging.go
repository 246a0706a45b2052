package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/security"
)

// maskIP masks an IP address for privacy in logs.
// IPv4: x.x.x.0/24, IPv6: x:x:x::/48. Loopback addresses are kept.
func maskIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "[redacted]"
	}
	if ip.IsLoopback() {
		return ip.String()
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging returns middleware that logs request details. Health checks are
// logged at debug level since the popup and CLI poll them.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := zerolog.InfoLevel
		if r.URL.Path == "/health" {
			level = zerolog.DebugLevel
		}
		if wrapped.statusCode >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}

		log.WithLevel(level).
			Str("method", r.Method).
			Str("path", security.RedactURL(r.URL.String())).
			Str("remote_addr", maskIP(r.RemoteAddr)).
			Str("request_id", GetRequestID(r.Context())).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}
