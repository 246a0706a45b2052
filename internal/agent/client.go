package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/middleware"
	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

// Client sends messages to a running agent.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the agent configured in cfg.
func NewClient(cfg *config.Config) *Client {
	return NewClientForAddr(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), cfg)
}

// NewClientForAddr creates a client for the agent listening on addr.
func NewClientForAddr(addr string, cfg *config.Config) *Client {
	c := resty.New().
		SetBaseURL("http://"+addr).
		SetTimeout(cfg.MessageTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	if cfg.AgentToken != "" {
		c.SetHeader(middleware.AgentTokenHeader, cfg.AgentToken)
	}
	return &Client{http: c}
}

// Send delivers msg and returns the agent's reply. Replies carrying an
// error field are returned as-is; only transport failures and non-200
// statuses are errors.
func (c *Client) Send(ctx context.Context, msg types.Message) (*types.MessageResponse, error) {
	var out types.MessageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&out).
		SetError(&out).
		Post("/message")
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	if resp.StatusCode() != 200 {
		if out.Error != "" {
			return nil, fmt.Errorf("agent returned HTTP %d: %s", resp.StatusCode(), out.Error)
		}
		return nil, fmt.Errorf("agent returned HTTP %d", resp.StatusCode())
	}
	return &out, nil
}
