// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/tripmate/tripmate-sync/internal/kv"
)

// Run exercises s through get, overwrite, remove and ping. Keys are the
// ones the stores use, colon included.
func Run(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "pinStore:v1", `{"wantToGo":[]}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "pinStore:v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"wantToGo":[]}` {
		t.Errorf("Get = %q", got)
	}

	if err := s.Set(ctx, "pinStore:v1", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := s.Get(ctx, "pinStore:v1"); got != "second" {
		t.Errorf("after overwrite Get = %q, want second", got)
	}

	if err := s.Set(ctx, "chatHistory:v1", `{"sessions":[]}`); err != nil {
		t.Fatalf("Set second key: %v", err)
	}
	if got, _ := s.Get(ctx, "pinStore:v1"); got != "second" {
		t.Errorf("keys overlap: Get = %q, want second", got)
	}

	if err := s.Remove(ctx, "pinStore:v1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "pinStore:v1"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Get after remove: err = %v, want ErrNotFound", err)
	}
	if err := s.Remove(ctx, "pinStore:v1"); err != nil {
		t.Errorf("Remove twice: %v", err)
	}
	if got, err := s.Get(ctx, "chatHistory:v1"); err != nil || got != `{"sessions":[]}` {
		t.Errorf("other key after remove = %q, %v", got, err)
	}
	if err := s.Remove(ctx, "chatHistory:v1"); err != nil {
		t.Errorf("cleanup: %v", err)
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
