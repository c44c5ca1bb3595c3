// Package idgen provides the identifier generators used across livepage.
// Constructors take a Generator so tests can pin ids.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Id prefixes.
const (
	PrefixRequest = "req_"
	PrefixUpdate  = "upd_"
	PrefixSession = "ses_"
)

var (
	// Default is UUIDv7; the prefixed generators compose on top of it.
	Default Generator = UUIDv7()

	Request = Prefixed(PrefixRequest, Default)
	Update  = Prefixed(PrefixUpdate, Default)
	Session = Prefixed(PrefixSession, Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse checks that s is prefix followed by a UUID and returns it normalised.
func Parse(prefix, s string) (string, error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", fmt.Errorf("idgen: %q lacks prefix %q", s, prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return prefix + u.String(), nil
}

// Sequence returns a deterministic Generator yielding prefix1, prefix2, ...
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}
