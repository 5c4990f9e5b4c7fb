// Package sessionstore defines persistence contracts for authenticated sessions.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound reports a missing session row.
var ErrSessionNotFound = errors.New("session not found")

// Session maps an opaque token to an authenticated actor with a fixed expiry.
type Session struct {
	Token     string    `json:"-"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has passed its expiry at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions in the local control database.
type Store interface {
	Create(ctx context.Context, session Session) error
	// Get returns the session for token regardless of expiry; callers decide
	// whether an expired row counts as absent.
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
