package main

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/proxyauth/internal/agent"
	"github.com/Rorqualx/proxyauth/internal/authclient"
	"github.com/Rorqualx/proxyauth/internal/badge"
	"github.com/Rorqualx/proxyauth/internal/config"
	"github.com/Rorqualx/proxyauth/internal/identity"
)

// app is the state shared by all subcommands, built before each run.
type app struct {
	cfg *config.Config

	// flag overrides
	backendURL string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "proxyauth",
		Short: "Sign in with Google and switch the account proxy on or off",
		Long: `proxyauth signs in against the proxy backend with a Google identity token,
keeps the session token locally and applies or removes the fixed-server proxy rule.

Run "proxyauth serve" to keep the background agent (badge, message API) running
and "proxyauth popup" for the interactive view.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.load(cmd.ErrOrStderr())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.backendURL, "backend", "", "Backend base URL (overrides BACKEND_URL)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "State directory (overrides DATA_DIR)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newProxyCmd(a),
		newBadgeCmd(a),
		newExtensionCmd(a),
		newServeCmd(a),
		newPopupCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration, applies flag overrides and sets up logging.
func (a *app) load(logOut io.Writer) {
	cfg := config.Load()
	if a.backendURL != "" {
		cfg.BackendURL = a.backendURL
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	// Logging first so validation warnings are visible.
	setupLogging(cfg.LogLevel, logOut)
	cfg.Validate()
	a.cfg = cfg
}

// deps wires the file-backed capabilities. prompter may be nil when no
// terminal prompt is possible.
func (a *app) deps(configuredToken string, prompter identity.Prompter, renderer badge.Renderer) agent.Deps {
	if configuredToken == "" {
		configuredToken = a.cfg.GoogleToken
	}
	auth := authclient.New(a.cfg.BackendURL, a.cfg.HTTPTimeout)
	ident := identity.NewFileProvider(a.cfg.IdentityPath(), configuredToken, prompter)
	return agent.FileDeps(a.cfg, auth, ident, renderer)
}

// setupLogging configures zerolog based on the log level. Output goes to w
// so command output on stdout stays machine-readable.
func setupLogging(level string, w io.Writer) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	})

	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
