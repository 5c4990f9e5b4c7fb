package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktake/stocktake/internal/domain/settingstore"
)

// SettingsStore persists key/value application settings.
type SettingsStore struct {
	pool *pgxpool.Pool
}

var _ settingstore.Store = (*SettingsStore)(nil)

// NewSettingsStore constructs a SettingsStore backed by the provided pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

const (
	settingGetSQL = `
SELECT value
FROM app_settings
WHERE key = $1;
`

	settingUpsertSQL = `
INSERT INTO app_settings (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = NOW();
`
)

func (s *SettingsStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("settings store: nil pool")
	}
	return s.pool, nil
}

// Get returns the raw value stored under key.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("settings store: key required")
	}
	var value string
	if err := pool.QueryRow(ctx, settingGetSQL, trimmed).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", settingstore.ErrSettingNotFound
		}
		return "", fmt.Errorf("settings store: get %q: %w", trimmed, err)
	}
	return value, nil
}

// Save upserts the value stored under key.
func (s *SettingsStore) Save(ctx context.Context, key, value string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("settings store: key required")
	}
	if _, err := pool.Exec(ctx, settingUpsertSQL, trimmed, value); err != nil {
		return fmt.Errorf("settings store: save %q: %w", trimmed, err)
	}
	return nil
}
