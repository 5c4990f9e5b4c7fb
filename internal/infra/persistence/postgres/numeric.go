package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// decimalFromString parses a quantity column selected as text.
func decimalFromString(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("numeric value required")
	}
	out, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return out, nil
}

// decimalFromNullString parses an optional quantity column selected as text.
func decimalFromNullString(value sql.NullString) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := decimalFromString(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// nullableDecimal converts an optional decimal into a driver argument.
func nullableDecimal(ptr *decimal.Decimal) any {
	if ptr == nil {
		return nil
	}
	return ptr.String()
}
