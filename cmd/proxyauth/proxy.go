package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/types"
)

func newProxyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Apply, remove or inspect the proxy rule",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Apply the configured fixed-server proxy rule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps := a.deps("", nil, nil)
				if err := deps.Proxy.ActivateDefault(cmd.Context()); err != nil {
					return fmt.Errorf("failed to set proxy: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Proxy set to %s\n", deps.Proxy.DefaultRule().Addr())
				return nil
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Remove the proxy rule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps := a.deps("", nil, nil)
				if err := deps.Proxy.Deactivate(cmd.Context()); err != nil {
					return fmt.Errorf("failed to remove proxy: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Proxy removed successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the configured proxy is active",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps := a.deps("", nil, nil)
				active, settings, err := deps.Proxy.CurrentlyActive(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read proxy settings: %w", err)
				}
				printProxyState(cmd.OutOrStdout(), active, settings, deps.Proxy.DefaultRule())
				return nil
			},
		},
		&cobra.Command{
			Use:   "check <url>",
			Short: "Show which proxy a request to url would use",
			Long: `Show which proxy a request to url would use under the current settings,
honoring the bypass list.

Example:
  proxyauth proxy check https://example.com`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := parseTarget(args[0])
				if err != nil {
					return err
				}

				deps := a.deps("", nil, nil)
				settings, err := deps.Host.Get(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read proxy settings: %w", err)
				}

				via, err := hostproxy.Route(settings, target)
				if err != nil {
					return fmt.Errorf("failed to resolve proxy for %s: %w", target.Redacted(), err)
				}
				if via == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: direct\n", target.Redacted())
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: via %s\n", target.Redacted(), via.Redacted())
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "env",
			Short: "Print the proxy as shell environment variables",
			Long: `Print HTTP_PROXY, HTTPS_PROXY and NO_PROXY for the current settings so
tools that ignore host settings use the same proxy.

Example:
  eval "$(proxyauth proxy env)"`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps := a.deps("", nil, nil)
				settings, err := deps.Host.Get(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read proxy settings: %w", err)
				}
				out := cmd.OutOrStdout()
				env := hostproxy.Environment(settings)
				if env == nil {
					for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy"} {
						fmt.Fprintf(out, "unset %s\n", name)
					}
					return nil
				}
				for _, kv := range env {
					name, value, _ := strings.Cut(kv, "=")
					fmt.Fprintf(out, "export %s=%q\n", name, value)
				}
				return nil
			},
		},
	)
	return cmd
}

func parseTarget(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q, expected http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u, nil
}

func printProxyState(w io.Writer, active bool, settings types.ProxySettings, rule types.ProxyRule) {
	if active {
		fmt.Fprintf(w, "Proxy: ON (%s)\n", rule.URL())
		if settings.Rules != nil && len(settings.Rules.BypassList) > 0 {
			fmt.Fprintf(w, "  Bypass: %s\n", strings.Join(settings.Rules.BypassList, ", "))
		}
		return
	}
	fmt.Fprintf(w, "Proxy: OFF (mode %s)\n", settings.Mode)
}
