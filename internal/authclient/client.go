// Package authclient talks to the remote auth backend: it exchanges a Google
// identity token for a session token and verifies stored session tokens.
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/security"
	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

// Backend endpoints, relative to the base URL.
const (
	LoginPath  = "/login"
	VerifyPath = "/auth/verify"
)

// maxResponseSize caps backend replies; they are a handful of fields.
const maxResponseSize = 1 << 20

// loginRequest is the body of POST /login.
type loginRequest struct {
	GoogleToken string `json:"google_token"`
}

// verifyRequest is the body of POST /auth/verify.
type verifyRequest struct {
	Token string `json:"token"`
}

// authResponse covers both endpoints:
// /login → {success, token, email, name?, ips?}
// /auth/verify → {success, email, name?, ips}
type authResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token,omitempty"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	IPs     []string `json:"ips,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Client is the Remote Auth Service client. Calls are never retried.
type Client struct {
	baseURL string
	resty   *resty.Client
}

// New creates a client for baseURL with a per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetResponseBodyLimit(maxResponseSize)

	return &Client{
		baseURL: baseURL,
		resty:   r,
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Exchange trades an identity token for a backend session.
func (c *Client) Exchange(ctx context.Context, identityToken string) (*types.Session, error) {
	if identityToken == "" {
		return nil, types.NewAuthRejectedError("login", 0, "empty identity token")
	}

	body, err := c.post(ctx, "login", LoginPath, loginRequest{GoogleToken: identityToken})
	if err != nil {
		return nil, err
	}
	if body.Token == "" {
		return nil, types.NewNetworkError("login", fmt.Errorf("response is missing token"))
	}
	if body.Email == "" {
		return nil, types.NewNetworkError("login", fmt.Errorf("response is missing email"))
	}

	log.Debug().
		Str("email", body.Email).
		Str("token", security.MaskToken(body.Token)).
		Int("ips", len(body.IPs)).
		Msg("Login exchange succeeded")

	return &types.Session{
		Token:   body.Token,
		Profile: types.NewProfile(body.Email, body.Name, body.IPs),
	}, nil
}

// Verify checks a session token and returns the current profile.
func (c *Client) Verify(ctx context.Context, token string) (*types.Profile, error) {
	if token == "" {
		return nil, types.NewAuthRejectedError("verify", 0, "empty session token")
	}

	body, err := c.post(ctx, "verify", VerifyPath, verifyRequest{Token: token})
	if err != nil {
		return nil, err
	}
	if body.Email == "" {
		return nil, types.NewNetworkError("verify", fmt.Errorf("response is missing email"))
	}

	log.Debug().
		Str("email", body.Email).
		Str("token", security.MaskToken(token)).
		Int("ips", len(body.IPs)).
		Msg("Session token verified")

	return types.NewProfile(body.Email, body.Name, body.IPs), nil
}

// post sends payload and decodes the JSON reply. Transport and decoding
// failures become network errors; success:false becomes an auth rejection
// regardless of HTTP status.
func (c *Client) post(ctx context.Context, op, path string, payload any) (*authResponse, error) {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.baseURL + path)
	if err != nil {
		log.Warn().
			Err(err).
			Str("op", op).
			Str("url", security.RedactURL(c.baseURL+path)).
			Msg("Auth backend unreachable")
		return nil, types.NewNetworkError(op, err)
	}

	var body authResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		log.Warn().
			Err(err).
			Str("op", op).
			Int("status", resp.StatusCode()).
			Msg("Auth backend returned a non-JSON response")
		return nil, types.NewNetworkError(op, fmt.Errorf("invalid response (HTTP %d): %w", resp.StatusCode(), err))
	}

	if !body.Success {
		log.Info().
			Str("op", op).
			Int("status", resp.StatusCode()).
			Str("reason", body.Error).
			Msg("Auth backend rejected request")
		return nil, types.NewAuthRejectedError(op, resp.StatusCode(), body.Error)
	}

	return &body, nil
}
