package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/proxyauth/internal/agent"
	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/hostproxy"
	"github.com/Rorqualx/proxyauth/internal/popup"
	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background agent",
		Long: `Run the background agent until interrupted.

On start the stored session is verified and the badge is painted. While
running the agent serves the local message API, removes the proxy when the
session token disappears and repaints the badge when the proxy changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("version", version.Full()).
				Str("go_version", version.GoVersion()).
				Str("backend", a.cfg.BackendURL).
				Str("data_dir", a.cfg.DataDir).
				Msg("Starting proxyauth agent")

			deps := a.deps("", nil, badge.LogRenderer{})
			return agent.New(a.cfg, deps).Run(ctx)
		},
	}
}

func newPopupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "popup",
		Short: "Open the interactive popup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the popup; identity tokens are typed into it.
			deps := a.deps("", nil, badge.RendererFunc(func(badge.Marker) {}))
			return popup.Run(cmd.Context(), deps.Sessions, deps.Proxy)
		},
	}
}

func newBadgeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badge",
		Short: "Drive the badge of a running agent",
	}

	send := func(cmd *cobra.Command, msg types.Message) error {
		resp, err := agent.NewClient(a.cfg).Send(cmd.Context(), msg)
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("agent: %s", resp.Error)
		}
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the badge, like clicking it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := send(cmd, types.Message{Action: types.ActionClickBadge}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Badge cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Repaint the badge from the current proxy state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := send(cmd, types.Message{Action: types.ActionUpdateBadge}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Badge updated")
				return nil
			},
		},
		&cobra.Command{
			Use:   "error [details]",
			Short: "Report a proxy error to the agent",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				details := "reported from command line"
				if len(args) == 1 {
					details = args[0]
				}
				if err := send(cmd, types.Message{Action: types.ActionReportProxyError, Details: details}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Proxy error reported")
				return nil
			},
		},
	)
	return cmd
}

func newExtensionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Browser extension helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export <dir>",
		Short: "Write an unpacked extension that applies the proxy rule",
		Long: `Write an unpacked Manifest V3 extension into dir. Loaded into a Chromium
profile, it applies the configured fixed-server rule at scope "regular" and
shows an error badge when the proxy fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := hostproxy.NewExtension(args[0], a.cfg.ProxyRule())
			if err != nil {
				return fmt.Errorf("failed to write extension: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extension written to %s\n", ext.Dir())
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "proxyauth %s (%s)\n", version.Full(), version.GoVersion())
		},
	}
}
