package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/proxyauth/internal/identity"
	"github.com/Rorqualx/proxyauth/internal/security"
	"github.com/Rorqualx/proxyauth/internal/types"
)

func newLoginCmd(a *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Google identity token",
		Long: `Exchange a Google identity token for a session token and store both the
token and the user profile.

The identity token is taken from --token, GOOGLE_TOKEN, the cached token from
an earlier sign-in, or read from the terminal.

Examples:
  proxyauth login
  proxyauth login --token ya29.a0Af...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompter := &identity.ReaderPrompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
			deps := a.deps(token, prompter, nil)

			ev, err := deps.Sessions.SignIn(cmd.Context())
			if err != nil {
				if errors.Is(err, types.ErrAuthRejected) {
					return fmt.Errorf("login failed, invalid user: %w", err)
				}
				return fmt.Errorf("login failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Successfully signed in!")
			printProfile(out, ev.Profile)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Google identity token")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	var keepProxy bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Long: `Remove the cached identity token and clear the stored session.

The proxy rule is removed as well, the same as a running agent does when the
session disappears. Use --keep-proxy to leave it in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := a.deps("", nil, nil)
			ctx := cmd.Context()

			if _, err := deps.Sessions.Logout(ctx); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			if !keepProxy {
				if err := deps.Proxy.Deactivate(ctx); err != nil {
					return fmt.Errorf("signed out but failed to remove proxy: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully signed out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepProxy, "keep-proxy", false, "Leave the proxy rule in place")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session and proxy state",
		Long: `Show the stored session and whether the proxy is active.

With --verify the session token is checked against the backend first; an
invalid token is cleared and the proxy removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := a.deps("", nil, nil)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if verify {
				if _, err := deps.RestoreSession(ctx); err != nil {
					fmt.Fprintf(out, "Session could not be verified: %v\n", err)
				}
			}

			sess, err := deps.Sessions.Current(ctx)
			if err != nil {
				return fmt.Errorf("failed to read session: %w", err)
			}
			if sess.Empty() {
				fmt.Fprintln(out, "Not signed in")
			} else {
				fmt.Fprintln(out, "Signed in")
				printProfile(out, sess.Profile)
				fmt.Fprintf(out, "  Token:  %s\n", security.MaskToken(sess.Token))
				if exp, ok := tokenExpiry(sess.Token); ok {
					state := "valid until"
					if time.Now().After(exp) {
						state = "expired at"
					}
					fmt.Fprintf(out, "  Expiry: %s %s\n", state, exp.Local().Format(time.RFC1123))
				}
			}

			active, settings, err := deps.Proxy.CurrentlyActive(ctx)
			if err != nil {
				return fmt.Errorf("failed to read proxy settings: %w", err)
			}
			printProxyState(out, active, settings, deps.Proxy.DefaultRule())
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Verify the session with the backend")
	return cmd
}

func printProfile(w io.Writer, p *types.Profile) {
	if p == nil {
		return
	}
	name := p.Name
	if name == "" {
		name = "User"
	}
	fmt.Fprintf(w, "  Name:   %s\n", name)
	fmt.Fprintf(w, "  Email:  %s\n", p.Email)
	if len(p.IPs) == 0 {
		fmt.Fprintln(w, "  IPs:    none")
	} else {
		fmt.Fprintf(w, "  IPs:    %s\n", strings.Join(p.IPs, ", "))
	}
}

// tokenExpiry reads the exp claim of a JWT session token for display. The
// signature is not checked.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
