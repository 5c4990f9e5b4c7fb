package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktake/stocktake/internal/domain/sessionstore"
)

// SessionStore persists authenticated sessions in the local control database.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore constructs a SessionStore backed by the provided pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const (
	sessionInsertSQL = `
INSERT INTO sessions (token, username, full_name, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5);
`

	sessionGetSQL = `
SELECT token, username, full_name, created_at, expires_at
FROM sessions
WHERE token = $1;
`

	sessionDeleteSQL = `
DELETE FROM sessions
WHERE token = $1;
`

	sessionDeleteExpiredSQL = `
DELETE FROM sessions
WHERE expires_at < $1;
`
)

func (s *SessionStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("session store: nil pool")
	}
	return s.pool, nil
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, session sessionstore.Session) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	token := strings.TrimSpace(session.Token)
	if token == "" {
		return fmt.Errorf("session store: token required")
	}
	if _, err := pool.Exec(ctx, sessionInsertSQL,
		token,
		strings.TrimSpace(session.Username),
		session.FullName,
		session.CreatedAt,
		session.ExpiresAt,
	); err != nil {
		return fmt.Errorf("session store: insert session: %w", err)
	}
	return nil
}

// Get returns the session for token regardless of expiry.
func (s *SessionStore) Get(ctx context.Context, token string) (sessionstore.Session, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return sessionstore.Session{}, err
	}
	var session sessionstore.Session
	row := pool.QueryRow(ctx, sessionGetSQL, strings.TrimSpace(token))
	if err := row.Scan(&session.Token, &session.Username, &session.FullName, &session.CreatedAt, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessionstore.Session{}, sessionstore.ErrSessionNotFound
		}
		return sessionstore.Session{}, fmt.Errorf("session store: get session: %w", err)
	}
	return session, nil
}

// Delete removes a session row; deleting an absent token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, sessionDeleteSQL, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("session store: delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session that expired before now.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, sessionDeleteExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("session store: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ sessionstore.Store = (*SessionStore)(nil)
