package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktake/stocktake/internal/domain/connstore"
)

// ConnStore persists external database connection descriptors.
type ConnStore struct {
	pool *pgxpool.Pool
}

// NewConnStore constructs a ConnStore backed by the provided pool.
func NewConnStore(pool *pgxpool.Pool) *ConnStore {
	return &ConnStore{pool: pool}
}

const (
	storeSelectBase = `
SELECT
    id,
    nickname,
    server,
    database_name,
    username,
    secret,
    is_primary,
    is_active,
    created_at,
    updated_at
FROM store_connections
`

	storeListSQL = storeSelectBase + `
ORDER BY is_primary DESC, nickname ASC;
`

	storeGetSQL = storeSelectBase + `
WHERE id = $1;
`

	storeGetByNicknameSQL = storeSelectBase + `
WHERE nickname = $1;
`

	storeListPrimarySQL = storeSelectBase + `
WHERE is_primary = TRUE AND is_active = TRUE;
`

	storeInsertSQL = `
INSERT INTO store_connections (nickname, server, database_name, username, secret, is_primary, is_active)
VALUES (@nickname, @server, @database_name, @username, @secret, @is_primary, @is_active)
RETURNING id;
`

	storeDeleteSQL = `
DELETE FROM store_connections
WHERE id = $1;
`

	storeClearPrimarySQL = `
UPDATE store_connections SET is_primary = FALSE WHERE is_primary = TRUE;
`

	storeSetPrimarySQL = `
UPDATE store_connections
SET is_primary = TRUE, updated_at = NOW()
WHERE id = $1;
`

	adminGetSQL = `
SELECT server, database_name, username, secret, updated_at
FROM admin_db_config
ORDER BY id DESC
LIMIT 1;
`

	adminDeleteSQL = `
DELETE FROM admin_db_config;
`

	adminInsertSQL = `
INSERT INTO admin_db_config (server, database_name, username, secret, updated_at)
VALUES ($1, $2, $3, $4, NOW());
`
)

func (s *ConnStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("conn store: nil pool")
	}
	return s.pool, nil
}

// ListStores returns every configured store connection, primary first.
func (s *ConnStore) ListStores(ctx context.Context) ([]connstore.StoreConnection, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, storeListSQL)
	if err != nil {
		return nil, fmt.Errorf("conn store: list stores: %w", err)
	}
	defer rows.Close()

	var stores []connstore.StoreConnection
	for rows.Next() {
		conn, err := scanStoreConnection(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conn store: iterate stores: %w", err)
	}
	return stores, nil
}

// GetStore returns the store connection with the given row id.
func (s *ConnStore) GetStore(ctx context.Context, id int64) (connstore.StoreConnection, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return connstore.StoreConnection{}, err
	}
	conn, err := scanStoreConnection(pool.QueryRow(ctx, storeGetSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return connstore.StoreConnection{}, connstore.ErrStoreNotFound
		}
		return connstore.StoreConnection{}, err
	}
	return conn, nil
}

// GetStoreByNickname returns the store connection keyed by nickname.
func (s *ConnStore) GetStoreByNickname(ctx context.Context, nickname string) (connstore.StoreConnection, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return connstore.StoreConnection{}, err
	}
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return connstore.StoreConnection{}, fmt.Errorf("conn store: nickname required")
	}
	conn, err := scanStoreConnection(pool.QueryRow(ctx, storeGetByNicknameSQL, trimmed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return connstore.StoreConnection{}, connstore.ErrStoreNotFound
		}
		return connstore.StoreConnection{}, err
	}
	return conn, nil
}

// ListPrimaryStores returns every active store flagged primary. The registry
// enforces that exactly one row comes back.
func (s *ConnStore) ListPrimaryStores(ctx context.Context) ([]connstore.StoreConnection, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, storeListPrimarySQL)
	if err != nil {
		return nil, fmt.Errorf("conn store: list primary stores: %w", err)
	}
	defer rows.Close()

	var stores []connstore.StoreConnection
	for rows.Next() {
		conn, err := scanStoreConnection(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conn store: iterate primary stores: %w", err)
	}
	return stores, nil
}

// AddStore inserts a new store connection. Setting it primary clears any
// existing primary flag in the same transaction.
func (s *ConnStore) AddStore(ctx context.Context, conn connstore.StoreConnection) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}
	nickname := strings.TrimSpace(conn.Nickname)
	if nickname == "" {
		return 0, fmt.Errorf("conn store: nickname required")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("conn store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if conn.IsPrimary {
		if _, err := tx.Exec(ctx, storeClearPrimarySQL); err != nil {
			return 0, fmt.Errorf("conn store: clear primary: %w", err)
		}
	}
	args := pgx.NamedArgs{
		"nickname":      nickname,
		"server":        strings.TrimSpace(conn.Server),
		"database_name": strings.TrimSpace(conn.Database),
		"username":      strings.TrimSpace(conn.Username),
		"secret":        conn.Secret,
		"is_primary":    conn.IsPrimary,
		"is_active":     conn.IsActive,
	}
	var id int64
	if err := tx.QueryRow(ctx, storeInsertSQL, args).Scan(&id); err != nil {
		return 0, fmt.Errorf("conn store: insert store: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("conn store: commit tx: %w", err)
	}
	return id, nil
}

// UpdateStore applies a partial update to a store connection row.
func (s *ConnStore) UpdateStore(ctx context.Context, id int64, update connstore.StoreUpdate) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}

	assignments := make([]string, 0, 7)
	args := make([]any, 0, 8)
	position := 1

	appendAssignment := func(column string, value any) {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, position))
		args = append(args, value)
		position++
	}

	if update.Nickname != nil {
		appendAssignment("nickname", strings.TrimSpace(*update.Nickname))
	}
	if update.Server != nil {
		appendAssignment("server", strings.TrimSpace(*update.Server))
	}
	if update.Database != nil {
		appendAssignment("database_name", strings.TrimSpace(*update.Database))
	}
	if update.Username != nil {
		appendAssignment("username", strings.TrimSpace(*update.Username))
	}
	if update.Secret != nil {
		appendAssignment("secret", *update.Secret)
	}
	if update.IsPrimary != nil {
		appendAssignment("is_primary", *update.IsPrimary)
	}
	if update.IsActive != nil {
		appendAssignment("is_active", *update.IsActive)
	}
	if len(assignments) == 0 {
		return nil
	}
	assignments = append(assignments, "updated_at = NOW()")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conn store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if update.IsPrimary != nil && *update.IsPrimary {
		if _, err := tx.Exec(ctx, storeClearPrimarySQL); err != nil {
			return fmt.Errorf("conn store: clear primary: %w", err)
		}
	}

	query := fmt.Sprintf("UPDATE store_connections SET %s WHERE id = $%d", strings.Join(assignments, ", "), position)
	args = append(args, id)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conn store: update store: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return connstore.ErrStoreNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conn store: commit tx: %w", err)
	}
	return nil
}

// DeleteStore removes a store connection row.
func (s *ConnStore) DeleteStore(ctx context.Context, id int64) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, storeDeleteSQL, id)
	if err != nil {
		return fmt.Errorf("conn store: delete store: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return connstore.ErrStoreNotFound
	}
	return nil
}

// SetPrimaryStore flags one store as primary and clears every other flag.
func (s *ConnStore) SetPrimaryStore(ctx context.Context, id int64) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conn store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, storeClearPrimarySQL); err != nil {
		return fmt.Errorf("conn store: clear primary: %w", err)
	}
	tag, err := tx.Exec(ctx, storeSetPrimarySQL, id)
	if err != nil {
		return fmt.Errorf("conn store: set primary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return connstore.ErrStoreNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conn store: commit tx: %w", err)
	}
	return nil
}

// GetAdminConfig returns the singleton admin database descriptor.
func (s *ConnStore) GetAdminConfig(ctx context.Context) (connstore.AdminConfig, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return connstore.AdminConfig{}, err
	}
	var cfg connstore.AdminConfig
	row := pool.QueryRow(ctx, adminGetSQL)
	if err := row.Scan(&cfg.Server, &cfg.Database, &cfg.Username, &cfg.Secret, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return connstore.AdminConfig{}, connstore.ErrAdminNotConfigured
		}
		return connstore.AdminConfig{}, fmt.Errorf("conn store: get admin config: %w", err)
	}
	return cfg, nil
}

// SaveAdminConfig replaces the admin database descriptor.
func (s *ConnStore) SaveAdminConfig(ctx context.Context, cfg connstore.AdminConfig) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conn store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, adminDeleteSQL); err != nil {
		return fmt.Errorf("conn store: clear admin config: %w", err)
	}
	if _, err := tx.Exec(ctx, adminInsertSQL,
		strings.TrimSpace(cfg.Server),
		strings.TrimSpace(cfg.Database),
		strings.TrimSpace(cfg.Username),
		cfg.Secret,
	); err != nil {
		return fmt.Errorf("conn store: insert admin config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conn store: commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoreConnection(row rowScanner) (connstore.StoreConnection, error) {
	var conn connstore.StoreConnection
	if err := row.Scan(
		&conn.ID,
		&conn.Nickname,
		&conn.Server,
		&conn.Database,
		&conn.Username,
		&conn.Secret,
		&conn.IsPrimary,
		&conn.IsActive,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return connstore.StoreConnection{}, err
		}
		return connstore.StoreConnection{}, fmt.Errorf("conn store: scan store: %w", err)
	}
	return conn, nil
}

var _ connstore.Store = (*ConnStore)(nil)
