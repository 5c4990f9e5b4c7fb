// Package settingstore defines persistence contracts for operator-tunable
// application settings.
package settingstore

import (
	"context"
	"errors"
)

// ErrSettingNotFound reports a missing settings key.
var ErrSettingNotFound = errors.New("setting not found")

// Store persists key/value settings in the local control database.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
}
