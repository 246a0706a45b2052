// Package handlers implements the agent message API: one JSON message in,
// one JSON response out, written only after the operation completes.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/metrics"
	"github.com/Rorqualx/proxyauth/internal/middleware"
	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

// maxBodySize bounds incoming messages.
const maxBodySize = 64 << 10

// TokenVerifier verifies session tokens (the session orchestrator).
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (bool, error)
}

// ProxyStatus reports whether the configured proxy is active (the proxy
// controller).
type ProxyStatus interface {
	CurrentlyActive(ctx context.Context) (bool, types.ProxySettings, error)
}

// Indicator is the status indicator.
type Indicator interface {
	Refresh(ctx context.Context) (badge.Marker, error)
	ReportError(details string)
	Click()
}

// Handler handles message API requests.
type Handler struct {
	sessions TokenVerifier
	proxy    ProxyStatus
	badge    Indicator
}

// New creates a new Handler.
func New(sessions TokenVerifier, proxy ProxyStatus, indicator Indicator) *Handler {
	return &Handler{
		sessions: sessions,
		proxy:    proxy,
		badge:    indicator,
	}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, types.HealthResponse{
		Status:  "ok",
		Version: version.Full(),
	})
}

// HandleMessage handles POST /message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read message body")
		h.writeError(w, http.StatusBadRequest, "Failed to read message")
		return
	}

	var msg types.Message
	if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
		log.Warn().Err(err).Msg("Failed to decode message")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON message")
		return
	}

	if len(msg.Action) > types.MaxActionLength {
		h.writeError(w, http.StatusBadRequest, "Action too long")
		return
	}

	log.Debug().
		Str("action", msg.Action).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Msg("Message received")

	resp := h.dispatch(r.Context(), &msg)

	status := "ok"
	if resp.Error != "" {
		status = "error"
	}
	action := msg.Action
	if !knownActions[action] {
		action = "unknown"
	}
	metrics.RecordMessage(action, status, time.Since(startTime))

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, types.MessageResponse{Error: message})
}

// writeJSONResponse buffers JSON before writing so encoding errors are
// caught before headers are sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
