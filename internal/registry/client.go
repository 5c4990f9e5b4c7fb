package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when a product lookup matches no row.
var ErrProductNotFound = errors.New("product not found")

// ErrUserNotFound is returned when an admin user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// Product is one inventory row in an external store database.
type Product struct {
	ID            int64           `json:"id"`
	UPC           string          `json:"upc"`
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	QuantOnHand   decimal.Decimal `json:"quantOnHand"`
	LastCountedAt *time.Time      `json:"lastCountedAt,omitempty"`
	UnitsPerCase  decimal.Decimal `json:"unitsPerCase"`
}

// AdminUser is an operator account row in the admin database.
type AdminUser struct {
	ID       int64
	Username string
	FullName string
	Status   string
	// Activated is tri-state in the admin schema. Only an explicit false
	// blocks login; null and true both pass.
	Activated *bool
}

// AuditRecord is one manual inventory update row written to the admin
// database after a store write lands.
type AuditRecord struct {
	CreatedAt          time.Time
	Username           string
	UpdateType         string
	ProductDescription string
	ProductSKU         string
	ProductUPC         string
	OldQty             decimal.Decimal
	NewQty             decimal.Decimal
	DiffQty            decimal.Decimal
}

// QuotationRef points at an open quotation tracked in the admin database.
// SourceStore names the store connection whose detail table holds the lines.
type QuotationRef struct {
	Number      string `json:"quotationNumber"`
	SourceStore string `json:"sourceStore"`
	DetailID    int64  `json:"-"`
}

// PurchaseOrderRef points at an open purchase order in a store database.
type PurchaseOrderRef struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
}

const (
	productSelectByUPCSQL = `SELECT product_id, product_upc, product_sku, product_description,
       COALESCE(quant_on_hand, 0)::text, last_count_date, COALESCE(unit_qty, 0)::text
FROM items
WHERE product_upc = $1`

	productSelectByIDSQL = `SELECT product_id, product_upc, product_sku, product_description,
       COALESCE(quant_on_hand, 0)::text, last_count_date, COALESCE(unit_qty, 0)::text
FROM items
WHERE product_id = $1`

	productUpdateQuantitySQL = `UPDATE items
SET quant_on_hand = $1::numeric, last_count_date = $2
WHERE product_id = $3`

	pendingPurchaseOrdersSQL = `SELECT po_id, po_number
FROM purchase_orders
WHERE po_date >= NOW() - INTERVAL '90 days'
  AND status = 0`

	productInPurchaseOrderSQL = `SELECT COALESCE(SUM(qty_ordered), 0)::text
FROM purchase_order_details
WHERE po_id = $1 AND product_upc = $2`

	productInQuotationSQL = `SELECT COALESCE(SUM(qty), 0)::text
FROM quotation_details
WHERE quotation_id = $1 AND product_upc = $2`

	binLocationsTotalSQL = `SELECT COALESCE(SUM(COALESCE(bl.qty_cases, 0) * COALESCE(i.unit_qty, 0)), 0)::text
FROM item_bin_locations bl
LEFT JOIN items i ON bl.product_upc = i.product_upc
WHERE bl.product_upc = $1`

	adminUserSelectSQL = `SELECT id, username, COALESCE(full_name, ''), COALESCE(status_user, ''), activated
FROM admin_users
WHERE username = $1`

	auditInsertSQL = `INSERT INTO manual_inventory_updates
    (date_created, username, update_type, product_description, product_sku, product_upc,
     old_qty, new_qty, diff_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric)`

	pendingQuotationsSQL = `SELECT quotation_number, source_store, detail_ref
FROM quotation_status
WHERE date_create >= NOW() - INTERVAL '60 days'
  AND (status IS NULL OR status NOT IN ('CONVERTED', 'DELETED'))
  AND approved_by IS NOT NULL AND approved_by <> ''
  AND approved_at IS NOT NULL AND approved_at <> ''
  AND detail_ref IS NOT NULL`
)

// StoreClient issues product queries and the quantity write against one
// external store database. It holds a single request-scoped connection.
type StoreClient struct {
	conn             Conn
	nickname         string
	statementTimeout time.Duration
}

// Nickname reports which store connection this client was resolved from.
func (c *StoreClient) Nickname() string {
	return c.nickname
}

// Close releases the underlying connection.
func (c *StoreClient) Close(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}

// LookupByCode finds a product by its scanned barcode.
func (c *StoreClient) LookupByCode(ctx context.Context, code string) (Product, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	product, err := scanProduct(c.conn.QueryRow(ctx, productSelectByUPCSQL, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("%s: lookup product by code: %w", c.nickname, err)
	}
	return product, nil
}

// GetProduct fetches a product by its store-local identifier.
func (c *StoreClient) GetProduct(ctx context.Context, id int64) (Product, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	product, err := scanProduct(c.conn.QueryRow(ctx, productSelectByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("%s: get product: %w", c.nickname, err)
	}
	return product, nil
}

// UpdateQuantity writes the corrected on-hand quantity and stamps the last
// count date on the product row.
func (c *StoreClient) UpdateQuantity(ctx context.Context, id int64, quantity decimal.Decimal, countedAt time.Time) error {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	tag, err := c.conn.Exec(ctx, productUpdateQuantitySQL, quantity.String(), countedAt, id)
	if err != nil {
		return fmt.Errorf("%s: update quantity: %w", c.nickname, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// PendingPurchaseOrders lists open purchase orders from the last 90 days.
func (c *StoreClient) PendingPurchaseOrders(ctx context.Context) ([]PurchaseOrderRef, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	rows, err := c.conn.Query(ctx, pendingPurchaseOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("%s: list purchase orders: %w", c.nickname, err)
	}
	defer rows.Close()

	var refs []PurchaseOrderRef
	for rows.Next() {
		var ref PurchaseOrderRef
		if err := rows.Scan(&ref.ID, &ref.Number); err != nil {
			return nil, fmt.Errorf("%s: scan purchase order: %w", c.nickname, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: list purchase orders: %w", c.nickname, err)
	}
	return refs, nil
}

// ProductInPurchaseOrder sums the ordered quantity of a product across every
// line of one purchase order.
func (c *StoreClient) ProductInPurchaseOrder(ctx context.Context, poID int64, upc string) (decimal.Decimal, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	qty, err := scanQuantity(c.conn.QueryRow(ctx, productInPurchaseOrderSQL, poID, upc))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: sum purchase order lines: %w", c.nickname, err)
	}
	return qty, nil
}

// ProductInQuotation sums the quoted quantity of a product across every line
// of one quotation.
func (c *StoreClient) ProductInQuotation(ctx context.Context, quotationID int64, upc string) (decimal.Decimal, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	qty, err := scanQuantity(c.conn.QueryRow(ctx, productInQuotationSQL, quotationID, upc))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: sum quotation lines: %w", c.nickname, err)
	}
	return qty, nil
}

// BinLocationsTotal converts the cases stored in upper bin locations into
// units for a product.
func (c *StoreClient) BinLocationsTotal(ctx context.Context, upc string) (decimal.Decimal, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	qty, err := scanQuantity(c.conn.QueryRow(ctx, binLocationsTotalSQL, upc))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: sum bin locations: %w", c.nickname, err)
	}
	return qty, nil
}

func (c *StoreClient) stmtContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.statementTimeout)
}

// AdminClient issues authentication, audit and quotation queries against the
// shared admin database. It holds a single request-scoped connection.
type AdminClient struct {
	conn             Conn
	statementTimeout time.Duration
}

// Close releases the underlying connection.
func (c *AdminClient) Close(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}

// FindUser looks up an operator account by username.
func (c *AdminClient) FindUser(ctx context.Context, username string) (AdminUser, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	var user AdminUser
	row := c.conn.QueryRow(ctx, adminUserSelectSQL, username)
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.Status, &user.Activated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminUser{}, ErrUserNotFound
		}
		return AdminUser{}, fmt.Errorf("admin: find user: %w", err)
	}
	return user, nil
}

// RecordInventoryUpdate appends an audit row for a completed store write.
func (c *AdminClient) RecordInventoryUpdate(ctx context.Context, record AuditRecord) error {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	_, err := c.conn.Exec(ctx, auditInsertSQL,
		record.CreatedAt,
		record.Username,
		record.UpdateType,
		record.ProductDescription,
		record.ProductSKU,
		record.ProductUPC,
		record.OldQty.String(),
		record.NewQty.String(),
		record.DiffQty.String(),
	)
	if err != nil {
		return fmt.Errorf("admin: record inventory update: %w", err)
	}
	return nil
}

// PendingQuotations lists approved, still-open quotations from the last 60
// days. Rows without a usable detail reference are skipped.
func (c *AdminClient) PendingQuotations(ctx context.Context) ([]QuotationRef, error) {
	ctx, cancel := c.stmtContext(ctx)
	defer cancel()

	rows, err := c.conn.Query(ctx, pendingQuotationsSQL)
	if err != nil {
		return nil, fmt.Errorf("admin: list quotations: %w", err)
	}
	defer rows.Close()

	var refs []QuotationRef
	for rows.Next() {
		var (
			ref      QuotationRef
			detailID *int64
		)
		if err := rows.Scan(&ref.Number, &ref.SourceStore, &detailID); err != nil {
			return nil, fmt.Errorf("admin: scan quotation: %w", err)
		}
		if ref.SourceStore == "" || detailID == nil {
			continue
		}
		ref.DetailID = *detailID
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("admin: list quotations: %w", err)
	}
	return refs, nil
}

func (c *AdminClient) stmtContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.statementTimeout)
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		product       Product
		quantOnHand   string
		unitsPerCase  string
		lastCountedAt *time.Time
	)
	if err := row.Scan(&product.ID, &product.UPC, &product.SKU, &product.Description,
		&quantOnHand, &lastCountedAt, &unitsPerCase); err != nil {
		return Product{}, err
	}
	quant, err := decimal.NewFromString(quantOnHand)
	if err != nil {
		return Product{}, fmt.Errorf("parse quantity %q: %w", quantOnHand, err)
	}
	units, err := decimal.NewFromString(unitsPerCase)
	if err != nil {
		return Product{}, fmt.Errorf("parse units per case %q: %w", unitsPerCase, err)
	}
	product.QuantOnHand = quant
	product.UnitsPerCase = units
	product.LastCountedAt = lastCountedAt
	return product, nil
}

func scanQuantity(row pgx.Row) (decimal.Decimal, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse quantity %q: %w", raw, err)
	}
	return qty, nil
}
