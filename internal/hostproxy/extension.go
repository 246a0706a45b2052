package hostproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Rorqualx/proxyauth/internal/types"
	"github.com/Rorqualx/proxyauth/pkg/version"
)

// Extension is an unpacked Manifest V3 extension that installs a
// fixed-servers rule at scope regular, for loading into a Chromium profile.
type Extension struct {
	dir     string
	rule    types.ProxyRule
	tempDir bool
}

// NewExtension writes the extension into dir. An empty dir creates a
// temporary directory that Cleanup removes.
// Security: a directory created here is 0700 and files are 0600.
func NewExtension(dir string, rule types.ProxyRule) (*Extension, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	ext := &Extension{dir: dir, rule: rule}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "proxyauth-ext-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir for extension: %w", err)
		}
		ext.dir = tmp
		ext.tempDir = true
	} else if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create extension dir: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to inspect extension dir: %w", err)
	} else {
		// An existing directory keeps the mode its owner gave it.
		if err := ext.writeFiles(); err != nil {
			return nil, err
		}
		return ext, nil
	}

	// MkdirAll and MkdirTemp are subject to umask.
	if err := os.Chmod(ext.dir, 0700); err != nil {
		ext.Cleanup()
		return nil, fmt.Errorf("failed to set directory permissions: %w", err)
	}

	if err := ext.writeFiles(); err != nil {
		ext.Cleanup()
		return nil, err
	}
	return ext, nil
}

func (e *Extension) writeFiles() error {
	if err := e.createManifest(); err != nil {
		return err
	}
	return e.createBackgroundScript()
}

// Dir returns the extension directory path.
func (e *Extension) Dir() string {
	return e.dir
}

// Cleanup removes a temporary extension directory. Extensions written to a
// caller-chosen directory are left in place.
func (e *Extension) Cleanup() {
	if e.tempDir && e.dir != "" {
		os.RemoveAll(e.dir)
	}
}

func (e *Extension) createManifest() error {
	manifest := map[string]interface{}{
		"manifest_version": 3,
		"name":             "proxyauth fixed proxy",
		"version":          manifestVersion(),
		"description":      "Routes browser traffic through " + e.rule.Addr(),
		"permissions": []string{
			"proxy",
		},
		"background": map[string]interface{}{
			"service_worker": "background.js",
		},
		"action": map[string]interface{}{
			"default_title": "proxyauth",
		},
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	manifestPath := filepath.Join(e.dir, "manifest.json")
	if err := os.WriteFile(manifestPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// createBackgroundScript writes the service worker. The settings object is
// embedded as JSON so host names and bypass entries are always escaped.
func (e *Extension) createBackgroundScript() error {
	config, err := json.MarshalIndent(types.FixedServers(e.rule), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal proxy config: %w", err)
	}

	script := fmt.Sprintf(`// Generated by proxyauth. Do not edit.
const config = %s;

function applyProxy() {
  chrome.proxy.settings.set({value: config, scope: %q}, function() {
    if (chrome.runtime.lastError) {
      console.error("Proxy config error:", chrome.runtime.lastError);
      chrome.action.setBadgeText({text: "!"});
      chrome.action.setBadgeBackgroundColor({color: "#F44336"});
      return;
    }
    chrome.action.setBadgeText({text: "ON"});
    chrome.action.setBadgeBackgroundColor({color: "#4CAF50"});
  });
}

chrome.runtime.onInstalled.addListener(applyProxy);
chrome.runtime.onStartup.addListener(applyProxy);

chrome.proxy.onProxyError.addListener(function(details) {
  console.error("Proxy error:", details);
  chrome.action.setBadgeText({text: "!"});
  chrome.action.setBadgeBackgroundColor({color: "#F44336"});
});

chrome.action.onClicked.addListener(function() {
  chrome.action.setBadgeText({text: ""});
});
`, config, types.ScopeRegular)

	scriptPath := filepath.Join(e.dir, "background.js")
	if err := os.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return fmt.Errorf("failed to write background script: %w", err)
	}
	return nil
}

// Chrome accepts one to four dot-separated integers.
var manifestVersionPattern = regexp.MustCompile(`^\d+(\.\d+){0,3}`)

// manifestVersion returns a Chrome-compatible version string; development
// builds report 0.0.0.
func manifestVersion() string {
	v := version.Version
	if v == "" || v == "dev" {
		return "0.0.0"
	}
	v = strings.TrimPrefix(v, "v")
	if m := manifestVersionPattern.FindString(v); m != "" {
		return m
	}
	return "0.0.0"
}
