package urlpattern

import "testing"

func TestStringPatternExactMatch(t *testing.T) {
	p := Pattern{Type: TypeString, Pattern: "http://example.com/path"}

	if !p.Matches("http://example.com/path") {
		t.Error("expected exact match")
	}
	if !p.Matches("HTTP://EXAMPLE.COM/path") {
		t.Error("scheme and host should be case-insensitive")
	}
	if p.Matches("http://example.com/PATH") {
		t.Error("path should be case-sensitive")
	}
	if p.Matches("http://example.com/other") {
		t.Error("different path should not match")
	}
}

func TestComponentPatternEmptyFieldsMatchAnything(t *testing.T) {
	p := Pattern{Type: TypePattern}
	if !p.Matches("https://anything.example/whatever?x=1") {
		t.Error("a pattern with every component unset should match any url")
	}
}

func TestComponentPatternFieldsAreAND(t *testing.T) {
	p := Pattern{Type: TypePattern, Protocol: "https", Hostname: "example.com", Pathname: "/foo"}

	if !p.Matches("https://example.com/foo") {
		t.Error("expected match when all components agree")
	}
	if p.Matches("https://example.com/bar") {
		t.Error("mismatched pathname should not match")
	}
	if p.Matches("http://example.com/foo") {
		t.Error("mismatched protocol should not match")
	}
	if p.Matches("https://other.com/foo") {
		t.Error("mismatched hostname should not match")
	}
}

func TestComponentPatternHostnameCaseInsensitive(t *testing.T) {
	p := Pattern{Type: TypePattern, Hostname: "Example.COM"}
	if !p.Matches("https://example.com/") {
		t.Error("hostname component should be case-insensitive")
	}
}

func TestComponentPatternPort(t *testing.T) {
	p := Pattern{Type: TypePattern, Port: "8080"}
	if !p.Matches("http://example.com:8080/") {
		t.Error("expected port match")
	}
	if p.Matches("http://example.com:9090/") {
		t.Error("mismatched port should not match")
	}
}

func TestComponentPatternSearch(t *testing.T) {
	p := Pattern{Type: TypePattern, Search: "?x=1"}
	if !p.Matches("http://example.com/?x=1") {
		t.Error("expected query match with leading '?' stripped")
	}
	if p.Matches("http://example.com/?x=2") {
		t.Error("mismatched query should not match")
	}
}

func TestMatchesAnyEmptyListMatchesAll(t *testing.T) {
	if !MatchesAny(nil, "http://example.com/") {
		t.Error("empty pattern list should match everything, per spec")
	}
}

func TestMatchesAnyMatchesIfAnyPatternMatches(t *testing.T) {
	patterns := []Pattern{
		{Type: TypeString, Pattern: "http://one.example/"},
		{Type: TypeString, Pattern: "http://two.example/"},
	}
	if !MatchesAny(patterns, "http://two.example/") {
		t.Error("expected match against second pattern")
	}
	if MatchesAny(patterns, "http://three.example/") {
		t.Error("expected no match against unlisted url")
	}
}
