// Package session issues and resolves bearer session tokens.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/domain/sessionstore"
)

// tokenBytes sized so tokens are 64 hex characters, long enough to make
// guessing infeasible without rate limits on the resolve path.
const tokenBytes = 32

// Directory mints, resolves and revokes sessions with a fixed TTL. Expiry is
// lazy: expired rows stay in the store until PruneExpired or a login sweep
// removes them, but Resolve never returns one.
type Directory struct {
	store  sessionstore.Store
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithNow overrides the time source. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDirectory constructs a Directory with the given session lifetime.
func NewDirectory(store sessionstore.Store, ttl time.Duration, logger *log.Logger, opts ...Option) *Directory {
	d := &Directory{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Create mints a new session for the authenticated actor.
func (d *Directory) Create(ctx context.Context, username, fullName string) (sessionstore.Session, error) {
	token, err := newToken()
	if err != nil {
		return sessionstore.Session{}, fmt.Errorf("mint session token: %w", err)
	}
	now := d.now()
	sess := sessionstore.Session{
		Token:     token,
		Username:  username,
		FullName:  fullName,
		CreatedAt: now,
		ExpiresAt: now.Add(d.ttl),
	}
	if err := d.store.Create(ctx, sess); err != nil {
		return sessionstore.Session{}, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// Resolve returns the live session for token. Missing and expired sessions
// are indistinguishable to the caller.
func (d *Directory) Resolve(ctx context.Context, token string) (sessionstore.Session, error) {
	if token == "" {
		return sessionstore.Session{}, errs.New("session", errs.CodeAuth,
			errs.WithMessage("authentication required"))
	}
	sess, err := d.store.Get(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return sessionstore.Session{}, errs.New("session", errs.CodeAuth,
				errs.WithMessage("session expired or invalid"))
		}
		return sessionstore.Session{}, errs.New("session", errs.CodeUnavailable,
			errs.WithMessage("session store unavailable"),
			errs.WithCause(err))
	}
	if sess.Expired(d.now()) {
		return sessionstore.Session{}, errs.New("session", errs.CodeAuth,
			errs.WithMessage("session expired or invalid"))
	}
	return sess, nil
}

// Invalidate removes the session for token. Unknown tokens are not an error.
func (d *Directory) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := d.store.Delete(ctx, token); err != nil && !isNotFound(err) {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// PruneExpired deletes sessions past their expiry and reports how many were
// removed.
func (d *Directory) PruneExpired(ctx context.Context) (int64, error) {
	removed, err := d.store.DeleteExpired(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if removed > 0 {
		d.logger.Printf("pruned %d expired sessions", removed)
	}
	return removed, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sessionstore.ErrSessionNotFound)
}
