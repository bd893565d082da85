// Package urlutil provides URL validation and sanitization utilities.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// sensitiveParams are query parameter names obfuscated in logs.
var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// Validate checks that raw is a non-empty, parseable absolute URL with a
// supported scheme and a host.
func Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}

	switch u.Scheme {
	case SchemeHTTP, SchemeHTTPS:
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host")
	}

	return nil
}

// Obfuscate returns a URL string safe for logging: userinfo passwords and
// sensitive query parameters are masked. Unparseable input is returned as-is.
func Obfuscate(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return ObfuscateURL(u)
}

// ObfuscateURL is like Obfuscate but operates on an already parsed URL.
func ObfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	// Copy to avoid mutating the caller's URL
	sanitized := *u

	if sanitized.User != nil {
		if _, hasPassword := sanitized.User.Password(); hasPassword {
			sanitized.User = url.UserPassword(sanitized.User.Username(), "***")
		}
	}

	query := sanitized.Query()
	changed := false
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
			changed = true
		}
	}
	if changed {
		sanitized.RawQuery = query.Encode()
	}

	return sanitized.String()
}
