package hostproxy

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// noProxy converts a host bypass list into NO_PROXY syntax. "*.example.com"
// becomes ".example.com"; "<local>" is dropped since loopback is never
// proxied by httpproxy anyway.
func noProxy(bypass []string) string {
	out := make([]string, 0, len(bypass))
	for _, entry := range bypass {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "" || entry == "<local>":
			continue
		case strings.HasPrefix(entry, "*."):
			entry = entry[1:]
		}
		out = append(out, entry)
	}
	return strings.Join(out, ",")
}

// proxyURL returns the singleProxy of settings as a URL string, or "" when
// settings does not install a fixed server.
func proxyURL(settings types.ProxySettings) string {
	if settings.Mode != types.ModeFixedServers || settings.Rules == nil || settings.Rules.SingleProxy == nil {
		return ""
	}
	sp := settings.Rules.SingleProxy
	scheme := sp.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: sp.Host}
	if sp.Port > 0 {
		u.Host = net.JoinHostPort(sp.Host, strconv.Itoa(sp.Port))
	}
	return u.String()
}

func httpproxyConfig(settings types.ProxySettings) *httpproxy.Config {
	p := proxyURL(settings)
	cfg := &httpproxy.Config{
		HTTPProxy:  p,
		HTTPSProxy: p,
	}
	if settings.Rules != nil {
		cfg.NoProxy = noProxy(settings.Rules.BypassList)
	}
	return cfg
}

// Route reports the proxy a request to target would go through under
// settings. A nil URL means the request goes direct.
func Route(settings types.ProxySettings, target *url.URL) (*url.URL, error) {
	if proxyURL(settings) == "" {
		return nil, nil
	}
	return httpproxyConfig(settings).ProxyFunc()(target)
}

// Environment renders settings as proxy environment variables for tools
// that do not read host settings. Settings without a fixed server yield nil.
func Environment(settings types.ProxySettings) []string {
	cfg := httpproxyConfig(settings)
	if cfg.HTTPProxy == "" {
		return nil
	}
	env := []string{
		"HTTP_PROXY=" + cfg.HTTPProxy,
		"HTTPS_PROXY=" + cfg.HTTPSProxy,
		"http_proxy=" + cfg.HTTPProxy,
		"https_proxy=" + cfg.HTTPSProxy,
	}
	if cfg.NoProxy != "" {
		env = append(env, "NO_PROXY="+cfg.NoProxy, "no_proxy="+cfg.NoProxy)
	}
	return env
}
