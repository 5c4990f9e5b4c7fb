package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktake/stocktake/internal/infra/persistence"
)

// Store bundles the PostgreSQL-backed repositories for the local control database.
type Store struct {
	*persistence.Store

	conns    *ConnStore
	txLog    *TxLogStore
	sessions *SessionStore
	settings *SettingsStore
}

// New constructs a PostgreSQL persistence store with one repository per table group.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Store:    persistence.NewStore(pool),
		conns:    NewConnStore(pool),
		txLog:    NewTxLogStore(pool),
		sessions: NewSessionStore(pool),
		settings: NewSettingsStore(pool),
	}
}

// Conns returns the store connection and admin config repository.
func (s *Store) Conns() *ConnStore {
	if s == nil {
		return nil
	}
	return s.conns
}

// TxLog returns the transaction log repository.
func (s *Store) TxLog() *TxLogStore {
	if s == nil {
		return nil
	}
	return s.txLog
}

// Sessions returns the session repository.
func (s *Store) Sessions() *SessionStore {
	if s == nil {
		return nil
	}
	return s.sessions
}

// Settings returns the app settings repository.
func (s *Store) Settings() *SettingsStore {
	if s == nil {
		return nil
	}
	return s.settings
}
