// Package security composes the guard pipeline, rate limiting, and privacy
// auditing into the policy surface spec §4.6 names: origin allow-listing,
// per-scope rate limits, PII/attack detection, and compliance audit trails.
package security

import (
	"net/url"
	"strings"
)

// OriginPolicy decides whether a request Origin header is acceptable. It is
// shared by any component that terminates browser-originated connections,
// not only the websocket gateway.
type OriginPolicy struct {
	Environment    string
	AllowedOrigins []string
}

// Allow reports whether origin is acceptable under the policy. An empty
// origin (non-browser clients) is always allowed. In development,
// http(s)://localhost and 127.0.0.1 are allowed regardless of the allow
// list, to avoid friction during local testing.
func (p OriginPolicy) Allow(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if p.Environment == "development" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		return true
	}
	if u.Scheme != "https" {
		return p.Environment == "development"
	}
	for _, allowed := range p.AllowedOrigins {
		if strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
