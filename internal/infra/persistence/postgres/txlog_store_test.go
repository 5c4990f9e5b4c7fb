package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/internal/domain/txlog"
)

func TestTxLogStoreNilPool(t *testing.T) {
	store := NewTxLogStore(nil)
	ctx := context.Background()
	entry := txlog.Entry{
		AttemptID:     "7f1c9a6e-0000-0000-0000-000000000000",
		Username:      "clerk",
		StoreNickname: "midtown",
		ProductID:     42,
		NewQuantity:   decimal.NewFromInt(15),
		Status:        txlog.StatusSuccess,
	}
	if _, err := store.Append(ctx, entry); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.List(ctx, txlog.Query{Limit: 10}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestTxLogStoreRejectsInvalidStatus(t *testing.T) {
	store := NewTxLogStore(nil)
	if _, err := store.Append(context.Background(), txlog.Entry{AttemptID: "a", Status: "done"}); err == nil {
		t.Fatalf("expected rejection of unknown status")
	}
}

func TestStatusValid(t *testing.T) {
	for _, status := range []txlog.Status{txlog.StatusPending, txlog.StatusSuccess, txlog.StatusPartial, txlog.StatusError} {
		if !status.Valid() {
			t.Fatalf("expected %q to be valid", status)
		}
	}
	if txlog.Status("failed").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		value, fallback, maximum, want int
	}{
		{0, 100, 500, 100},
		{-3, 100, 500, 100},
		{50, 100, 500, 50},
		{900, 100, 500, 500},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.value, tc.fallback, tc.maximum); got != tc.want {
			t.Fatalf("clampLimit(%d) = %d, want %d", tc.value, got, tc.want)
		}
	}
}
