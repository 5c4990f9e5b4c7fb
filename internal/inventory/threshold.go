package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/internal/domain/settingstore"
)

// thresholdKey is the settings row holding the confirmation threshold.
const thresholdKey = "quantity_threshold"

// defaultThreshold applies when the setting row is absent.
var defaultThreshold = decimal.NewFromInt(10)

// ThresholdChecker decides whether a proposed correction is large enough to
// need an explicit operator confirmation before it is applied.
type ThresholdChecker struct {
	settings settingstore.Store
}

// NewThresholdChecker constructs a checker over the given settings store.
func NewThresholdChecker(settings settingstore.Store) *ThresholdChecker {
	return &ThresholdChecker{settings: settings}
}

// DifferenceCheck is the outcome of comparing a proposed quantity against the
// current one.
type DifferenceCheck struct {
	OldQuantity      decimal.Decimal `json:"oldQuantity"`
	FinalQuantity    decimal.Decimal `json:"finalQuantity"`
	Difference       decimal.Decimal `json:"difference"`
	Threshold        decimal.Decimal `json:"threshold"`
	ExceedsThreshold bool            `json:"exceedsThreshold"`
}

// Check computes the difference a correction would apply and flags it when its
// absolute value is strictly above the configured threshold.
func (c *ThresholdChecker) Check(ctx context.Context, oldQuantity, finalQuantity decimal.Decimal) (DifferenceCheck, error) {
	threshold, err := c.Threshold(ctx)
	if err != nil {
		return DifferenceCheck{}, err
	}
	difference := finalQuantity.Sub(oldQuantity)
	return DifferenceCheck{
		OldQuantity:      oldQuantity,
		FinalQuantity:    finalQuantity,
		Difference:       difference,
		Threshold:        threshold,
		ExceedsThreshold: difference.Abs().GreaterThan(threshold),
	}, nil
}

// Threshold returns the configured threshold, falling back to the default
// when no row exists.
func (c *ThresholdChecker) Threshold(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.settings.Get(ctx, thresholdKey)
	if err != nil {
		if errors.Is(err, settingstore.ErrSettingNotFound) {
			return defaultThreshold, nil
		}
		return decimal.Zero, fmt.Errorf("load threshold: %w", err)
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse threshold %q: %w", raw, err)
	}
	return threshold, nil
}

// SaveThreshold validates and stores a new threshold value.
func (c *ThresholdChecker) SaveThreshold(ctx context.Context, value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("threshold cannot be negative")
	}
	if err := c.settings.Save(ctx, thresholdKey, value.String()); err != nil {
		return fmt.Errorf("save threshold: %w", err)
	}
	return nil
}
