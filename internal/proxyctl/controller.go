// Package proxyctl applies, removes and inspects the fixed-server proxy rule
// through the host proxy capability.
package proxyctl

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/metrics"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// Controller is the Proxy Controller.
type Controller struct {
	host hostproxy.Host
	rule types.ProxyRule
}

// New creates a controller for the configured rule.
func New(host hostproxy.Host, rule types.ProxyRule) *Controller {
	return &Controller{host: host, rule: rule}
}

// DefaultRule returns the configured rule.
func (c *Controller) DefaultRule() types.ProxyRule {
	return c.rule
}

// Activate installs rule at scope regular. Applying the same rule twice
// leaves the same configuration.
func (c *Controller) Activate(ctx context.Context, rule types.ProxyRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	settings := types.FixedServers(rule)
	if err := c.host.Set(ctx, settings, types.ScopeRegular); err != nil {
		metrics.RecordProxyChange("activate", false)
		log.Error().Err(err).Str("proxy", rule.URL()).Msg("Failed to activate proxy")
		return err
	}

	metrics.RecordProxyChange("activate", true)
	log.Info().
		Str("proxy", rule.URL()).
		Strs("bypass", rule.BypassList).
		Msg("Proxy activated")
	return nil
}

// ActivateDefault activates the configured rule.
func (c *Controller) ActivateDefault(ctx context.Context) error {
	return c.Activate(ctx, c.rule)
}

// Deactivate clears the regular-scope proxy. The host falls back to its
// default (system) configuration.
func (c *Controller) Deactivate(ctx context.Context) error {
	if err := c.host.Clear(ctx, types.ScopeRegular); err != nil {
		metrics.RecordProxyChange("deactivate", false)
		log.Error().Err(err).Msg("Failed to deactivate proxy")
		return err
	}

	metrics.RecordProxyChange("deactivate", true)
	log.Info().Msg("Proxy deactivated")
	return nil
}

// CurrentlyActive reports whether the host's effective configuration is the
// configured fixed-server rule, together with that configuration.
func (c *Controller) CurrentlyActive(ctx context.Context) (bool, types.ProxySettings, error) {
	settings, err := c.host.Get(ctx)
	if err != nil {
		return false, types.ProxySettings{}, err
	}
	active := settings.Matches(c.rule)
	metrics.SetProxyActive(active)
	return active, settings, nil
}
