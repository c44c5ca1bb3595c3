package credstore

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepage/dbopen"
)

func TestAPIKey_Missing(t *testing.T) {
	s, err := New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.APIKey(context.Background()); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("got %v, want ErrMissingCredential", err)
	}
}

func TestAPIKey_Fallback(t *testing.T) {
	s, err := New(dbopen.OpenMemory(t), WithFallback(" env-key "))
	if err != nil {
		t.Fatal(err)
	}
	v, src, err := s.Lookup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "env-key" || src != SourceEnv {
		t.Fatalf("got (%q, %q), want (env-key, env)", v, src)
	}
}

func TestSetAPIKey_OverridesFallback(t *testing.T) {
	ctx := context.Background()
	s, _ := New(dbopen.OpenMemory(t), WithFallback("env-key"))

	if err := s.SetAPIKey(ctx, "stored-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAPIKey(ctx, "stored-2"); err != nil {
		t.Fatal(err)
	}
	v, src, err := s.Lookup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != "stored-2" || src != SourceStored {
		t.Fatalf("got (%q, %q), want (stored-2, stored)", v, src)
	}

	if err := s.SetAPIKey(ctx, "  "); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.APIKey(ctx); v != "env-key" {
		t.Fatalf("after clear: got %q, want fallback", v)
	}
}

func TestNew_Idempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := New(db); err != nil {
		t.Fatal(err)
	}
	if _, err := New(db); err != nil {
		t.Fatalf("second New: %v", err)
	}
}
