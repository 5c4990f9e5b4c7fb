// Package connstore defines persistence contracts for external database credentials.
package connstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreNotFound reports a missing store connection row.
	ErrStoreNotFound = errors.New("store connection not found")
	// ErrAdminNotConfigured reports the absent admin database descriptor.
	ErrAdminNotConfigured = errors.New("admin database not configured")
)

// StoreConnection describes how to reach one external store inventory database.
// Nickname is the stable key used throughout the system; the numeric ID exists
// only for configuration CRUD.
type StoreConnection struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Server    string    `json:"server"`
	Database  string    `json:"database"`
	Username  string    `json:"username"`
	Secret    string    `json:"-"`
	IsPrimary bool      `json:"isPrimary"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AdminConfig is the singleton descriptor for the shared audit/authentication
// database. Absence is a hard configuration error for the registry.
type AdminConfig struct {
	Server    string    `json:"server"`
	Database  string    `json:"database"`
	Username  string    `json:"username"`
	Secret    string    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoreUpdate carries partial updates for a store connection row. Nil fields
// are left untouched.
type StoreUpdate struct {
	Nickname  *string
	Server    *string
	Database  *string
	Username  *string
	Secret    *string
	IsPrimary *bool
	IsActive  *bool
}

// Store persists store connection descriptors and the admin DB singleton.
type Store interface {
	ListStores(ctx context.Context) ([]StoreConnection, error)
	GetStore(ctx context.Context, id int64) (StoreConnection, error)
	GetStoreByNickname(ctx context.Context, nickname string) (StoreConnection, error)
	// ListPrimaryStores returns every active row flagged primary. The registry
	// treats anything other than exactly one row as a configuration error.
	ListPrimaryStores(ctx context.Context) ([]StoreConnection, error)
	AddStore(ctx context.Context, conn StoreConnection) (int64, error)
	UpdateStore(ctx context.Context, id int64, update StoreUpdate) error
	DeleteStore(ctx context.Context, id int64) error
	SetPrimaryStore(ctx context.Context, id int64) error

	GetAdminConfig(ctx context.Context) (AdminConfig, error)
	SaveAdminConfig(ctx context.Context, cfg AdminConfig) error
}
