// Package inventory implements product lookup and the cross-store quantity
// correction flow.
package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/registry"
)

// ProductReader is the read side of a resolved store client.
type ProductReader interface {
	Nickname() string
	LookupByCode(ctx context.Context, code string) (registry.Product, error)
	GetProduct(ctx context.Context, id int64) (registry.Product, error)
}

// Snapshot is the product state captured before an update attempt. The
// orchestrator records OldQuantity from here, not from a re-read, so the
// difference always reflects what the operator saw on screen.
type Snapshot struct {
	ID            int64           `json:"id"`
	UPC           string          `json:"upc"`
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	OldQuantity   decimal.Decimal `json:"oldQuantity"`
	LastCountedAt *time.Time      `json:"lastCountedAt,omitempty"`
}

func snapshotFrom(product registry.Product) Snapshot {
	return Snapshot{
		ID:            product.ID,
		UPC:           product.UPC,
		SKU:           product.SKU,
		Description:   product.Description,
		OldQuantity:   product.QuantOnHand,
		LastCountedAt: product.LastCountedAt,
	}
}

// Lookup finds a product by scanned barcode on the given store.
func Lookup(ctx context.Context, reader ProductReader, code string) (Snapshot, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Snapshot{}, errs.New(reader.Nickname(), errs.CodeInvalid,
			errs.WithMessage("barcode required"))
	}
	product, err := reader.LookupByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, registry.ErrProductNotFound) {
			return Snapshot{}, errs.New(reader.Nickname(), errs.CodeNotFound,
				errs.WithMessage("product not found"),
				errs.WithDetail("barcode "+trimmed))
		}
		return Snapshot{}, errs.New(reader.Nickname(), errs.CodeNetwork,
			errs.WithMessage("product lookup failed"),
			errs.WithCause(err))
	}
	return snapshotFrom(product), nil
}

// Fetch loads a product by its store-local identifier.
func Fetch(ctx context.Context, reader ProductReader, id int64) (Snapshot, error) {
	product, err := reader.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrProductNotFound) {
			return Snapshot{}, errs.New(reader.Nickname(), errs.CodeNotFound,
				errs.WithMessage("product not found"))
		}
		return Snapshot{}, errs.New(reader.Nickname(), errs.CodeNetwork,
			errs.WithMessage("product fetch failed"),
			errs.WithCause(err))
	}
	return snapshotFrom(product), nil
}
