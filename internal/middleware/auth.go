package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"
)

// AgentTokenHeader carries the shared secret.
const AgentTokenHeader = "X-Agent-Token"

// AgentToken returns middleware requiring the shared secret on every path
// except /health and /metrics. An empty token disables the check.
func AgentToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			// Header only: query strings end up in logs and history.
			got := r.Header.Get(AgentTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Warn().
					Str("path", r.URL.Path).
					Str("request_id", GetRequestID(r.Context())).
					Msg("Rejected request with invalid agent token")
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing agent token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
