// Package txlog defines persistence contracts for the local transaction log.
//
// The log is the only durable record of how far a cross-store update attempt
// got. Entries are append-only: exactly one row per attempt, written after the
// external writes have resolved, with a terminal status that reflects the full
// attempt including steps that failed before the row existed.
package txlog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal outcome of one update attempt.
type Status string

const (
	// StatusPending marks an attempt whose outcome has not yet been decided.
	StatusPending Status = "pending"
	// StatusSuccess marks an attempt where every write landed.
	StatusSuccess Status = "success"
	// StatusPartial marks an attempt where the store write landed but the
	// audit write did not. These rows require manual reconciliation.
	StatusPartial Status = "partial"
	// StatusError marks an attempt where the store write itself failed.
	StatusError Status = "error"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusPartial, StatusError:
		return true
	}
	return false
}

// Entry is one immutable transaction log row.
type Entry struct {
	AttemptID          string          `json:"attemptId"`
	Username           string          `json:"username"`
	StoreNickname      string          `json:"storeNickname"`
	ProductID          int64           `json:"productId"`
	ProductUPC         string          `json:"productUpc"`
	ProductSKU         string          `json:"productSku"`
	ProductDescription string          `json:"productDescription"`
	OldQuantity        *decimal.Decimal `json:"oldQuantity,omitempty"`
	NewQuantity        decimal.Decimal `json:"newQuantity"`
	Difference         *decimal.Decimal `json:"difference,omitempty"`
	UserEnteredQty     decimal.Decimal `json:"userEnteredQty"`
	QuotationsQty      decimal.Decimal `json:"quotationsQty"`
	PurchaseOrdersQty  decimal.Decimal `json:"purchaseOrdersQty"`
	TopBinsQty         decimal.Decimal `json:"topBinsQty"`
	Status             Status          `json:"status"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
}

// Record is a stored entry enriched with its row identity and timestamp.
type Record struct {
	Entry
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Query scopes transaction history lookups.
type Query struct {
	Limit    int
	Offset   int
	Status   Status
	Username string
}

// Store persists transaction log entries.
type Store interface {
	Append(ctx context.Context, entry Entry) (Record, error)
	List(ctx context.Context, query Query) ([]Record, error)
}
