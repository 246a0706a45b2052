// Package config provides application configuration management.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// Configuration bounds.
const (
	defaultBadgeErrorAutoClear = 10 * time.Second
	maxBadgeErrorAutoClear     = 10 * time.Minute
	minHTTPTimeout             = time.Second
	maxHTTPTimeout             = 2 * time.Minute
)

// File names inside DataDir.
const (
	StorageFileName  = "storage.json"
	ProxyFileName    = "proxy.json"
	IdentityFileName = "identity.json"
)

// Config holds all application configuration.
// Values come from an optional YAML file (PROXYAUTH_CONFIG) and are then
// overridden by environment variables.
type Config struct {
	// Backend
	BackendURL  string
	HTTPTimeout time.Duration

	// Proxy rule applied by "add proxy"
	ProxyScheme     string
	ProxyHost       string
	ProxyPort       int
	ProxyBypassList []string

	// Badge: zero means the error marker stays until the badge is clicked
	BadgeErrorAutoClear time.Duration

	// Local state
	DataDir string

	// Identity token for non-interactive sign-in
	GoogleToken string

	// Agent message API
	Host           string
	Port           int
	AgentToken     string        // optional shared secret for /message
	AllowedOrigins []string      // browser origins allowed to call the agent
	MessageTimeout time.Duration // upper bound for one message

	// Logging
	LogLevel string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int
}

// fileConfig is the YAML overlay. Pointer fields distinguish unset from zero.
type fileConfig struct {
	BackendURL          string   `yaml:"backendUrl"`
	HTTPTimeout         string   `yaml:"httpTimeout"`
	ProxyScheme         string   `yaml:"proxyScheme"`
	ProxyHost           string   `yaml:"proxyHost"`
	ProxyPort           *int     `yaml:"proxyPort"`
	ProxyBypassList     []string `yaml:"proxyBypassList"`
	BadgeErrorAutoClear *string  `yaml:"badgeErrorAutoClear"`
	DataDir             string   `yaml:"dataDir"`
	Host                string   `yaml:"host"`
	Port                *int     `yaml:"port"`
	AllowedOrigins      []string `yaml:"allowedOrigins"`
	LogLevel            string   `yaml:"logLevel"`
	PrometheusEnabled   *bool    `yaml:"prometheusEnabled"`
	PrometheusPort      *int     `yaml:"prometheusPort"`
}

// Load loads configuration from the optional YAML file and environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	fc := loadFile(os.Getenv("PROXYAUTH_CONFIG"))

	badgeDefault := defaultBadgeErrorAutoClear
	if fc.BadgeErrorAutoClear != nil {
		if d, err := ParseAutoClear(*fc.BadgeErrorAutoClear); err == nil {
			badgeDefault = d
		} else {
			log.Warn().Err(err).Str("value", *fc.BadgeErrorAutoClear).Msg("Invalid badgeErrorAutoClear in config file, using default")
		}
	}

	httpTimeout := 15 * time.Second
	if fc.HTTPTimeout != "" {
		if d, err := time.ParseDuration(fc.HTTPTimeout); err == nil && d > 0 {
			httpTimeout = d
		}
	}

	return &Config{
		// Backend
		BackendURL:  getEnvString("BACKEND_URL", orString(fc.BackendURL, "http://localhost:3000")),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", httpTimeout),

		// Proxy rule
		ProxyScheme:     getEnvString("PROXY_SCHEME", orString(fc.ProxyScheme, "http")),
		ProxyHost:       getEnvString("PROXY_HOST", orString(fc.ProxyHost, "localhost")),
		ProxyPort:       getEnvInt("PROXY_PORT", orInt(fc.ProxyPort, 8080)),
		ProxyBypassList: getEnvStringSlice("PROXY_BYPASS_LIST", orSlice(fc.ProxyBypassList, []string{"localhost", "127.0.0.1"})),

		// Badge
		BadgeErrorAutoClear: getEnvAutoClear("BADGE_ERROR_AUTO_CLEAR", badgeDefault),

		// Local state
		DataDir: getEnvString("DATA_DIR", orString(fc.DataDir, defaultDataDir())),

		GoogleToken: getEnvString("GOOGLE_TOKEN", ""),

		// Agent - localhost only; the message API carries session tokens
		Host:           getEnvString("HOST", orString(fc.Host, "127.0.0.1")),
		Port:           getEnvInt("PORT", orInt(fc.Port, 8497)),
		AgentToken:     getEnvString("AGENT_TOKEN", ""),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", orSlice(fc.AllowedOrigins, nil)),
		MessageTimeout: getEnvDuration("MESSAGE_TIMEOUT", 2*httpTimeout),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", orString(fc.LogLevel, "info")),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", orBool(fc.PrometheusEnabled, false)),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", orInt(fc.PrometheusPort, 8498)),
	}
}

// ProxyRule returns the configured fixed-server rule.
func (c *Config) ProxyRule() types.ProxyRule {
	port := c.ProxyPort
	if port < 0 || port > 65535 {
		port = 0
	}
	return types.ProxyRule{
		Scheme:     c.ProxyScheme,
		Host:       c.ProxyHost,
		Port:       uint16(port),
		BypassList: append([]string(nil), c.ProxyBypassList...),
	}
}

// StoragePath is the credential store file.
func (c *Config) StoragePath() string {
	return filepath.Join(c.DataDir, StorageFileName)
}

// ProxyPath is the host proxy settings file.
func (c *Config) ProxyPath() string {
	return filepath.Join(c.DataDir, ProxyFileName)
}

// IdentityPath is the cached identity token file.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.DataDir, IdentityFileName)
}

// BadgeClearsOnClick reports whether the error badge is only cleared by a click.
func (c *Config) BadgeClearsOnClick() bool {
	return c.BadgeErrorAutoClear == 0
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Backend URL must be absolute http(s)
	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		log.Error().
			Str("backend_url", c.BackendURL).
			Msg("BACKEND_URL must be an absolute http or https URL, using http://localhost:3000")
		c.BackendURL = "http://localhost:3000"
	}
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	if strings.HasPrefix(c.BackendURL, "http://") {
		log.Debug().Msg("BACKEND_URL uses plain HTTP - session tokens travel unencrypted")
	}

	if c.HTTPTimeout < minHTTPTimeout {
		log.Warn().Dur("timeout", c.HTTPTimeout).Dur("min", minHTTPTimeout).Msg("HTTP timeout too short, using minimum")
		c.HTTPTimeout = minHTTPTimeout
	} else if c.HTTPTimeout > maxHTTPTimeout {
		log.Warn().Dur("timeout", c.HTTPTimeout).Dur("max", maxHTTPTimeout).Msg("HTTP timeout too long, using maximum")
		c.HTTPTimeout = maxHTTPTimeout
	}

	// Proxy rule
	c.ProxyScheme = strings.ToLower(c.ProxyScheme)
	validSchemes := map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true, "quic": true}
	if !validSchemes[c.ProxyScheme] {
		log.Warn().Str("scheme", c.ProxyScheme).Msg("Invalid PROXY_SCHEME, using 'http'")
		c.ProxyScheme = "http"
	}
	if strings.TrimSpace(c.ProxyHost) == "" {
		log.Warn().Msg("PROXY_HOST is empty, using 'localhost'")
		c.ProxyHost = "localhost"
	}
	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		log.Warn().Int("port", c.ProxyPort).Msg("Invalid PROXY_PORT, using default 8080")
		c.ProxyPort = 8080
	}

	// Badge error lifetime
	if c.BadgeErrorAutoClear < 0 {
		log.Warn().Dur("auto_clear", c.BadgeErrorAutoClear).Msg("Negative badge auto-clear, clearing on click instead")
		c.BadgeErrorAutoClear = 0
	} else if c.BadgeErrorAutoClear > maxBadgeErrorAutoClear {
		log.Warn().
			Dur("auto_clear", c.BadgeErrorAutoClear).
			Dur("max", maxBadgeErrorAutoClear).
			Msg("Badge auto-clear too long, capping to maximum")
		c.BadgeErrorAutoClear = maxBadgeErrorAutoClear
	}

	// DataDir validation - prevent path traversal
	if strings.Contains(c.DataDir, "..") {
		log.Error().Str("path", c.DataDir).Msg("DATA_DIR contains path traversal sequence (..), using default")
		c.DataDir = defaultDataDir()
	}

	// Agent port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8497")
		c.Port = 8497
	}
	if c.Host != "127.0.0.1" && c.Host != "localhost" && c.Host != "::1" {
		log.Warn().Str("host", c.Host).Msg("Message API bound to a non-loopback address - other hosts can read proxy and session state")
	}

	if c.MessageTimeout < c.HTTPTimeout {
		log.Warn().
			Dur("message_timeout", c.MessageTimeout).
			Dur("http_timeout", c.HTTPTimeout).
			Msg("MESSAGE_TIMEOUT shorter than HTTP_TIMEOUT, raising it")
		c.MessageTimeout = 2 * c.HTTPTimeout
	}

	if c.PrometheusEnabled && c.PrometheusPort == c.Port {
		log.Error().Int("port", c.PrometheusPort).Msg("PROMETHEUS_PORT conflicts with PORT, disabling metrics")
		c.PrometheusEnabled = false
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
}

// ParseAutoClear parses a badge auto-clear value. "off", "none", "never",
// "click" and "0" mean the error badge clears only on click.
func ParseAutoClear(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "0", "off", "none", "never", "click", "null":
		return 0, nil
	}
	// Bare integers are milliseconds, matching badgeErrorAutoClearMs.
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", value)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}

func loadFile(path string) fileConfig {
	var fc fileConfig
	if path == "" {
		return fc
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to read config file, using environment only")
		return fc
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to parse config file, using environment only")
		return fileConfig{}
	}
	log.Debug().Str("path", path).Msg("Loaded config file")
	return fc
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxyauth"
	}
	return filepath.Join(home, ".proxyauth")
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func orBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func orSlice(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Reject negative or zero durations
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvAutoClear(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	d, err := ParseAutoClear(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid badge auto-clear value, using default")
		return defaultValue
	}
	return d
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Parse comma-separated values, trimming whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
