// Package idgen generates the identifiers pagemark stamps on pages and
// journal events.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs. They sort by
// creation time, which keeps the event journal in insertion order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default generates event ids.
var Default Generator = UUIDv7()

// Page generates page lifetime ids.
var Page Generator = Prefixed("pg_", UUIDv7())

// New produces an id using Default.
func New() string {
	return Default()
}

// Parse validates a UUID string.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: parse %q: %w", s, err)
	}
	return u.String(), nil
}
