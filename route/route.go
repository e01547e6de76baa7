// Package route decides whether a page location is the activation route.
package route

import (
	"net/url"
	"strings"
)

// DefaultKey is the route fragment of the target screen.
const DefaultKey = "/EG0008W"

// Matcher matches locations against a fixed route fragment. The zero value
// never matches.
type Matcher struct {
	Key string
}

// New returns a Matcher for key.
func New(key string) Matcher {
	return Matcher{Key: key}
}

// Match reports whether location contains the route fragment. Comparison is
// an exact substring test, no case folding.
func (m Matcher) Match(location string) bool {
	if m.Key == "" {
		return false
	}
	return strings.Contains(location, m.Key)
}

// MatchURL checks the path of location first and then the full string, so a
// fragment carried in the query or hash of an SPA route still matches.
func (m Matcher) MatchURL(location string) bool {
	if m.Key == "" {
		return false
	}
	if u, err := url.Parse(location); err == nil && strings.Contains(u.Path, m.Key) {
		return true
	}
	return m.Match(location)
}
