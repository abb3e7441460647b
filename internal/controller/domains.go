// internal/controller/domains.go
package controller

import (
	"net/url"
	"strings"
)

// MatchDomain reports whether a page URL falls under a domain pattern.
// Patterns are hostnames with an optional leading wildcard and an optional
// scheme: "example.com", "*.example.com", "https://app.example.com". A bare
// "*" matches everything. Also used by the agent's secret scoping.
func MatchDomain(pattern, pageURL string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}

	wantScheme := ""
	if i := strings.Index(pattern, "://"); i != -1 {
		wantScheme = pattern[:i]
		pattern = pattern[i+3:]
	}

	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if wantScheme != "" && !strings.EqualFold(wantScheme, u.Scheme) {
		return false
	}

	host := strings.ToLower(u.Hostname())
	pattern = strings.ToLower(pattern)

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		// *.example.com matches subdomains and the apex itself.
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// MatchAnyDomain reports whether the URL matches at least one pattern. An
// empty pattern list means "no restriction".
func MatchAnyDomain(patterns []string, pageURL string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchDomain(p, pageURL) {
			return true
		}
	}
	return false
}
