// Package urlpattern implements BiDi URLPattern matching against request
// URLs, per spec §6: case-insensitive scheme/host, case-sensitive elsewhere,
// absent pattern components match anything.
package urlpattern

import (
	"net/url"
	"strings"
)

// Type distinguishes the two BiDi URLPattern forms.
type Type string

const (
	TypeString  Type = "string"
	TypePattern Type = "pattern"
)

// Pattern is a parsed BiDi UrlPattern.
type Pattern struct {
	Type Type

	// For Type == TypeString.
	Pattern string

	// For Type == TypePattern; empty string means "unset", matches anything.
	Protocol string
	Hostname string
	Port     string
	Pathname string
	Search   string
}

// Matches reports whether rawURL satisfies the pattern.
func (p Pattern) Matches(rawURL string) bool {
	switch p.Type {
	case TypeString:
		return matchesExact(p.Pattern, rawURL)
	case TypePattern:
		return matchesComponents(p, rawURL)
	default:
		return false
	}
}

func matchesExact(pattern, rawURL string) bool {
	pu, err1 := url.Parse(pattern)
	uu, err2 := url.Parse(rawURL)
	if err1 != nil || err2 != nil {
		return pattern == rawURL
	}
	return normalize(pu) == normalize(uu)
}

func normalize(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	cp := *u
	cp.Scheme = scheme
	cp.Host = host
	return cp.String()
}

func matchesComponents(p Pattern, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if p.Protocol != "" && !strings.EqualFold(p.Protocol, u.Scheme) {
		return false
	}
	if p.Hostname != "" && !strings.EqualFold(p.Hostname, u.Hostname()) {
		return false
	}
	if p.Port != "" && p.Port != u.Port() {
		return false
	}
	if p.Pathname != "" && p.Pathname != u.Path {
		return false
	}
	if p.Search != "" {
		search := u.RawQuery
		want := strings.TrimPrefix(p.Search, "?")
		if want != search {
			return false
		}
	}
	return true
}

// MatchesAny reports whether rawURL matches any pattern, or true if
// patterns is empty ("empty url-pattern list = match all").
func MatchesAny(patterns []Pattern, rawURL string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.Matches(rawURL) {
			return true
		}
	}
	return false
}
