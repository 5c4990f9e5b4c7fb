// Package auth authenticates operators against the admin database and mints
// sessions for them.
package auth

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/domain/sessionstore"
	"github.com/stocktake/stocktake/internal/registry"
	"github.com/stocktake/stocktake/internal/session"
)

// UserFinder is the slice of an admin client that login needs.
type UserFinder interface {
	FindUser(ctx context.Context, username string) (registry.AdminUser, error)
}

// Authenticator performs username-based login. The admin database is the
// source of truth for accounts; there is no local password storage.
type Authenticator struct {
	sessions *session.Directory
	logger   *log.Logger
}

// NewAuthenticator constructs an Authenticator minting sessions through dir.
func NewAuthenticator(dir *session.Directory, logger *log.Logger) *Authenticator {
	return &Authenticator{sessions: dir, logger: logger}
}

// Login verifies the username against the admin database and returns a fresh
// session. An account is rejected only when its activated flag is explicitly
// false; accounts without the flag set are treated as active.
func (a *Authenticator) Login(ctx context.Context, finder UserFinder, username string) (sessionstore.Session, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return sessionstore.Session{}, errs.New("auth", errs.CodeInvalid,
			errs.WithMessage("username required"))
	}

	user, err := finder.FindUser(ctx, trimmed)
	if err != nil {
		if errors.Is(err, registry.ErrUserNotFound) {
			return sessionstore.Session{}, errs.New("auth", errs.CodeAuth,
				errs.WithMessage("user not found"))
		}
		return sessionstore.Session{}, errs.New("admin", errs.CodeNetwork,
			errs.WithMessage("authentication lookup failed"),
			errs.WithCause(err))
	}
	if user.Activated != nil && !*user.Activated {
		return sessionstore.Session{}, errs.New("auth", errs.CodeAuth,
			errs.WithMessage("user account is not activated"))
	}

	fullName := strings.TrimSpace(user.FullName)
	if fullName == "" {
		fullName = user.Username
	}

	// Login is the natural moment to sweep stale rows; failure to prune
	// never blocks a valid login.
	if _, err := a.sessions.PruneExpired(ctx); err != nil {
		a.logger.Printf("session sweep failed: %v", err)
	}

	sess, err := a.sessions.Create(ctx, user.Username, fullName)
	if err != nil {
		return sessionstore.Session{}, errs.New("session", errs.CodeUnavailable,
			errs.WithMessage("session creation failed"),
			errs.WithCause(err))
	}
	return sess, nil
}

// Logout revokes the session for token.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.sessions.Invalidate(ctx, token)
}
