package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Proxy modes and scopes understood by the host proxy capability.
const (
	ModeFixedServers = "fixed_servers"
	ModeSystem       = "system"
	ModeDirect       = "direct"

	ScopeRegular = "regular"
)

// ProxyRule is the single fixed-server rule this program installs.
type ProxyRule struct {
	Scheme     string   `json:"scheme" yaml:"scheme"`
	Host       string   `json:"host" yaml:"host"`
	Port       uint16   `json:"port" yaml:"port"`
	BypassList []string `json:"bypassList,omitempty" yaml:"bypassList,omitempty"`
}

// Validate checks the rule is usable as a singleProxy entry.
func (r ProxyRule) Validate() error {
	switch strings.ToLower(r.Scheme) {
	case "http", "https", "socks4", "socks5", "quic":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRule, r.Scheme)
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRule)
	}
	if r.Port == 0 {
		return fmt.Errorf("%w: port is required", ErrInvalidRule)
	}
	return nil
}

// Addr returns host:port.
func (r ProxyRule) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// URL returns the rule as a proxy URL (scheme://host:port).
func (r ProxyRule) URL() string {
	return strings.ToLower(r.Scheme) + "://" + r.Addr()
}

// SingleProxy is the singleProxy entry of a fixed_servers config.
type SingleProxy struct {
	Scheme string `json:"scheme,omitempty"`
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
}

// ProxyRules is the rules object of a fixed_servers config.
type ProxyRules struct {
	SingleProxy *SingleProxy `json:"singleProxy,omitempty"`
	BypassList  []string     `json:"bypassList,omitempty"`
}

// ProxySettings mirrors the host proxy configuration object
// {mode, rules: {singleProxy: {scheme, host, port}, bypassList}}.
type ProxySettings struct {
	Mode  string      `json:"mode"`
	Rules *ProxyRules `json:"rules,omitempty"`
}

// FixedServers builds the host settings object for rule.
func FixedServers(rule ProxyRule) ProxySettings {
	return ProxySettings{
		Mode: ModeFixedServers,
		Rules: &ProxyRules{
			SingleProxy: &SingleProxy{
				Scheme: strings.ToLower(rule.Scheme),
				Host:   rule.Host,
				Port:   int(rule.Port),
			},
			BypassList: append([]string(nil), rule.BypassList...),
		},
	}
}

// SystemSettings is what the host reports when nothing is overridden.
func SystemSettings() ProxySettings {
	return ProxySettings{Mode: ModeSystem}
}

// Matches reports whether settings is a fixed_servers config whose single
// proxy points at rule's host and port.
func (s ProxySettings) Matches(rule ProxyRule) bool {
	if s.Mode != ModeFixedServers || s.Rules == nil || s.Rules.SingleProxy == nil {
		return false
	}
	sp := s.Rules.SingleProxy
	return sp.Host == rule.Host && sp.Port == int(rule.Port)
}
