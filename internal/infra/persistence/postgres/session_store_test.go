package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stocktake/stocktake/internal/domain/sessionstore"
)

func TestSessionStoreNilPool(t *testing.T) {
	store := NewSessionStore(nil)
	ctx := context.Background()
	session := sessionstore.Session{
		Token:     "deadbeef",
		Username:  "clerk",
		FullName:  "Counter Clerk",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := store.Create(ctx, session); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Get(ctx, "deadbeef"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Delete(ctx, "deadbeef"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.DeleteExpired(ctx, time.Now()); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	session := sessionstore.Session{ExpiresAt: now.Add(time.Minute)}
	if session.Expired(now) {
		t.Fatalf("expected live session")
	}
	if !session.Expired(now.Add(2 * time.Minute)) {
		t.Fatalf("expected expired session")
	}
	if !session.Expired(session.ExpiresAt) {
		t.Fatalf("expiry instant counts as expired")
	}
}
