package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/middleware"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// knownActions is the set of actions dispatch understands.
var knownActions = map[string]bool{
	types.ActionGetProxyStatus:   true,
	types.ActionUpdateBadge:      true,
	types.ActionVerifyToken:      true,
	types.ActionReportProxyError: true,
	types.ActionClickBadge:       true,
}

// dispatch runs one message to completion and builds its reply.
func (h *Handler) dispatch(ctx context.Context, msg *types.Message) types.MessageResponse {
	switch msg.Action {
	case types.ActionGetProxyStatus:
		active, settings, err := h.proxy.CurrentlyActive(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("getProxyStatus failed")
			return types.MessageResponse{IsProxySet: types.Bool(false), Error: err.Error()}
		}
		return types.MessageResponse{IsProxySet: types.Bool(active), Config: &settings}

	case types.ActionUpdateBadge:
		if _, err := h.badge.Refresh(ctx); err != nil {
			return types.MessageResponse{Success: types.Bool(false), Error: err.Error()}
		}
		return types.MessageResponse{Success: types.Bool(true)}

	case types.ActionVerifyToken:
		valid, err := h.sessions.VerifyToken(ctx, msg.Token)
		resp := types.MessageResponse{IsValid: types.Bool(valid)}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp

	case types.ActionReportProxyError:
		h.badge.ReportError(msg.Details)
		return types.MessageResponse{Success: types.Bool(true)}

	case types.ActionClickBadge:
		h.badge.Click()
		return types.MessageResponse{Success: types.Bool(true)}

	default:
		log.Debug().Str("action", msg.Action).Msg("Unknown message action")
		return types.MessageResponse{Error: types.ErrUnknownAction.Error()}
	}
}

// NewRouter wires the handler routes behind the agent middleware stack.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("POST /message", middleware.Timeout(cfg.MessageTimeout)(http.HandlerFunc(h.HandleMessage)))
	mux.HandleFunc("/", h.HandleNotFound)

	chain := middleware.Chain(
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.Origins(cfg.AllowedOrigins),
		middleware.AgentToken(cfg.AgentToken),
	)
	return chain(mux)
}
