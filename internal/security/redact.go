// Package security provides helpers that keep secrets out of logs and output.
package security

import (
	"net/url"
	"strings"
)

// sensitiveParamPatterns are query parameter names that likely contain secrets
var sensitiveParamPatterns = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"auth",
	"bearer",
	"credential",
	"key",
	"session",
}

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts user credentials (user:pass@host) and query parameters that
// look like secrets.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			keyLower := strings.ToLower(key)
			for _, pattern := range sensitiveParamPatterns {
				if strings.Contains(keyLower, pattern) {
					query[key] = []string{"[REDACTED]"}
					break
				}
			}
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// MaskToken shortens a bearer-style token to its first and last four
// characters. Tokens of eight characters or fewer are fully masked.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}
