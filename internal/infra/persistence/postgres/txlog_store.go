package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktake/stocktake/internal/domain/txlog"
)

// TxLogStore persists the append-only local transaction log.
type TxLogStore struct {
	pool *pgxpool.Pool
}

// NewTxLogStore constructs a TxLogStore backed by the provided pool.
func NewTxLogStore(pool *pgxpool.Pool) *TxLogStore {
	return &TxLogStore{pool: pool}
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

const (
	txlogInsertSQL = `
INSERT INTO transaction_log (
    attempt_id,
    username,
    store_nickname,
    product_id,
    product_upc,
    product_sku,
    product_description,
    old_quantity,
    new_quantity,
    difference,
    user_entered_qty,
    quotations_qty,
    purchase_orders_qty,
    top_bins_qty,
    status,
    error_message
)
VALUES (
    @attempt_id,
    @username,
    @store_nickname,
    @product_id,
    @product_upc,
    @product_sku,
    @product_description,
    @old_quantity,
    @new_quantity,
    @difference,
    @user_entered_qty,
    @quotations_qty,
    @purchase_orders_qty,
    @top_bins_qty,
    @status,
    @error_message
)
RETURNING id, created_at;
`

	txlogSelectBase = `
SELECT
    id,
    attempt_id,
    username,
    store_nickname,
    product_id,
    product_upc,
    product_sku,
    product_description,
    old_quantity::text,
    new_quantity::text,
    difference::text,
    user_entered_qty::text,
    quotations_qty::text,
    purchase_orders_qty::text,
    top_bins_qty::text,
    status,
    error_message,
    created_at
FROM transaction_log
`
)

func (s *TxLogStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("txlog store: nil pool")
	}
	return s.pool, nil
}

// Append inserts one transaction log entry with its terminal status.
func (s *TxLogStore) Append(ctx context.Context, entry txlog.Entry) (txlog.Record, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return txlog.Record{}, err
	}
	if strings.TrimSpace(entry.AttemptID) == "" {
		return txlog.Record{}, fmt.Errorf("txlog store: attempt id required")
	}
	if !entry.Status.Valid() {
		return txlog.Record{}, fmt.Errorf("txlog store: invalid status %q", entry.Status)
	}
	args := pgx.NamedArgs{
		"attempt_id":          strings.TrimSpace(entry.AttemptID),
		"username":            strings.TrimSpace(entry.Username),
		"store_nickname":      strings.TrimSpace(entry.StoreNickname),
		"product_id":          entry.ProductID,
		"product_upc":         entry.ProductUPC,
		"product_sku":         entry.ProductSKU,
		"product_description": entry.ProductDescription,
		"old_quantity":        nullableDecimal(entry.OldQuantity),
		"new_quantity":        entry.NewQuantity.String(),
		"difference":          nullableDecimal(entry.Difference),
		"user_entered_qty":    entry.UserEnteredQty.String(),
		"quotations_qty":      entry.QuotationsQty.String(),
		"purchase_orders_qty": entry.PurchaseOrdersQty.String(),
		"top_bins_qty":        entry.TopBinsQty.String(),
		"status":              string(entry.Status),
		"error_message":       nullableString(entry.ErrorMessage),
	}
	record := txlog.Record{Entry: entry}
	if err := pool.QueryRow(ctx, txlogInsertSQL, args).Scan(&record.ID, &record.CreatedAt); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: append entry: %w", err)
	}
	return record, nil
}

// List retrieves transaction history matching the supplied filters, newest first.
func (s *TxLogStore) List(ctx context.Context, query txlog.Query) ([]txlog.Record, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultHistoryLimit, maxHistoryLimit)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	builder := strings.Builder{}
	builder.WriteString(txlogSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 4)
	argPos := 1

	if query.Status != "" {
		if !query.Status.Valid() {
			return nil, fmt.Errorf("txlog store: invalid status filter %q", query.Status)
		}
		fmt.Fprintf(&builder, " AND status = $%d", argPos)
		args = append(args, string(query.Status))
		argPos++
	}
	if trimmed := strings.TrimSpace(query.Username); trimmed != "" {
		fmt.Fprintf(&builder, " AND username = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("txlog store: list entries: %w", err)
	}
	defer rows.Close()

	var records []txlog.Record
	for rows.Next() {
		record, err := scanTxLogRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txlog store: iterate entries: %w", err)
	}
	return records, nil
}

func scanTxLogRecord(row rowScanner) (txlog.Record, error) {
	var (
		record        txlog.Record
		oldQty        sql.NullString
		newQty        string
		difference    sql.NullString
		userEntered   string
		quotations    string
		purchaseOrder string
		topBins       string
		status        string
		errorMessage  pgtype.Text
	)
	if err := row.Scan(
		&record.ID,
		&record.AttemptID,
		&record.Username,
		&record.StoreNickname,
		&record.ProductID,
		&record.ProductUPC,
		&record.ProductSKU,
		&record.ProductDescription,
		&oldQty,
		&newQty,
		&difference,
		&userEntered,
		&quotations,
		&purchaseOrder,
		&topBins,
		&status,
		&errorMessage,
		&record.CreatedAt,
	); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: scan entry: %w", err)
	}

	var err error
	if record.OldQuantity, err = decimalFromNullString(oldQty); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: old quantity: %w", err)
	}
	if record.NewQuantity, err = decimalFromString(newQty); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: new quantity: %w", err)
	}
	if record.Difference, err = decimalFromNullString(difference); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: difference: %w", err)
	}
	if record.UserEnteredQty, err = decimalFromString(userEntered); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: user entered qty: %w", err)
	}
	if record.QuotationsQty, err = decimalFromString(quotations); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: quotations qty: %w", err)
	}
	if record.PurchaseOrdersQty, err = decimalFromString(purchaseOrder); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: purchase orders qty: %w", err)
	}
	if record.TopBinsQty, err = decimalFromString(topBins); err != nil {
		return txlog.Record{}, fmt.Errorf("txlog store: top bins qty: %w", err)
	}
	record.Status = txlog.Status(status)
	if errorMessage.Valid {
		record.ErrorMessage = errorMessage.String
	}
	return record, nil
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}

var _ txlog.Store = (*TxLogStore)(nil)
