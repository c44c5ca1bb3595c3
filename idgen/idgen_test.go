package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: got %d, want 7", u.Version())
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool, 1000)
	for range 1000 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestPrefixedGenerators(t *testing.T) {
	for prefix, gen := range map[string]Generator{
		PrefixRequest: Request,
		PrefixUpdate:  Update,
		PrefixSession: Session,
	} {
		id := gen()
		if !strings.HasPrefix(id, prefix) {
			t.Fatalf("id %q lacks prefix %q", id, prefix)
		}
		if _, err := Parse(prefix, id); err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "ses_", "req_" + New(), "ses_not-a-uuid"} {
		if _, err := Parse(PrefixSession, s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("x")
	if a, b := gen(), gen(); a != "x1" || b != "x2" {
		t.Fatalf("sequence: got %q, %q", a, b)
	}
}
