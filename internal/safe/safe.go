// Package safe holds the input checks applied to configuration and to
// responses read from remote endpoints.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MaxResponseBody caps how much of a remote response is read.
const MaxResponseBody int64 = 1 << 20

// ErrUnsafeScheme is returned for a URL that is not http or https.
var ErrUnsafeScheme = errors.New("safe: only http and https schemes are allowed")

// HTTPURL checks that rawURL is an absolute http(s) URL with a host.
// Private addresses are allowed: the target application and event
// receivers commonly live on the local network.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("safe: URL %q has no host", rawURL)
	}
	return nil
}

// Identifier rejects ids that cannot be used as a URL path segment or a
// log key: only letters, digits, underscore, hyphen and dot are allowed.
func Identifier(s string) error {
	if s == "" {
		return fmt.Errorf("safe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("safe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// Drain reads and discards at most max bytes of r so the connection can be
// reused.
func Drain(r io.Reader, max int64) {
	io.Copy(io.Discard, io.LimitReader(r, max))
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
