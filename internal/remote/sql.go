package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/database"
	"pos-sync-service/internal/logger"
)

type statements struct {
	insertOrder     string
	upsertItem      string
	upsertCustomer  string
	selectReceived  string
	selectInventory string
	selectCustomers string
}

var mysqlStatements = statements{
	insertOrder: `INSERT INTO orders (id, store_id, customer_id, payment_method, subtotal, tax, discount, total, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`,
	upsertItem: `INSERT INTO order_items (order_id, line_no, product_id, variant_id, quantity, unit_price, line_total, tax_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE product_id = VALUES(product_id), variant_id = VALUES(variant_id),
			quantity = VALUES(quantity), unit_price = VALUES(unit_price), line_total = VALUES(line_total), tax_rate = VALUES(tax_rate)`,
	upsertCustomer: `INSERT INTO customers (id, email, phone, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE email = VALUES(email), phone = VALUES(phone), name = VALUES(name)`,
	selectReceived: `SELECT received_at FROM orders WHERE id = ?`,
	selectInventory: `SELECT product_id, variant_id, location_id, sku, title, current_stock, reserved_stock, updated_at
		FROM inventory`,
	selectCustomers: `SELECT id, email, phone, name, created_at, updated_at
		FROM customers WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
}

var postgresStatements = statements{
	insertOrder: `INSERT INTO orders (id, store_id, customer_id, payment_method, subtotal, tax, discount, total, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
	upsertItem: `INSERT INTO order_items (order_id, line_no, product_id, variant_id, quantity, unit_price, line_total, tax_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id, line_no) DO UPDATE SET product_id = EXCLUDED.product_id, variant_id = EXCLUDED.variant_id,
			quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price, line_total = EXCLUDED.line_total, tax_rate = EXCLUDED.tax_rate`,
	upsertCustomer: `INSERT INTO customers (id, email, phone, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone, name = EXCLUDED.name`,
	selectReceived: `SELECT received_at FROM orders WHERE id = $1`,
	selectInventory: `SELECT product_id, variant_id, location_id, sku, title, current_stock, reserved_stock, updated_at
		FROM inventory`,
	selectCustomers: `SELECT id, email, phone, name, created_at, updated_at
		FROM customers WHERE created_at >= $1 ORDER BY created_at ASC, id ASC`,
}

// SQLRepository talks to the remote store over database/sql. Orders are
// insert-if-absent, items and customers are upserts keyed by id.
type SQLRepository struct {
	db    *database.Database
	stmts statements
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLRepository(db *database.Database) (*SQLRepository, error) {
	var stmts statements
	switch db.Dialect {
	case database.MySQL:
		stmts = mysqlStatements
	case database.Postgres:
		stmts = postgresStatements
	default:
		return nil, fmt.Errorf("unsupported dialect %q", db.Dialect)
	}
	return &SQLRepository{db: db, stmts: stmts}, nil
}

func (r *SQLRepository) placeholder(n int) string {
	if r.db.Dialect == database.Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (r *SQLRepository) InsertOrder(ctx context.Context, order Order) (Order, error) {
	if order.ID == "" {
		return Order{}, fmt.Errorf("%w: order without id", ErrInvalid)
	}
	metadata := string(order.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	_, err := r.db.DB.ExecContext(ctx, r.stmts.insertOrder,
		order.ID, order.StoreID, nullable(order.CustomerID), order.PaymentMethod,
		order.Subtotal, order.Tax, order.Discount, order.Total, order.Status,
		metadata, order.CreatedAt.UTC(),
	)
	if err != nil {
		return Order{}, fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	var received sql.NullTime
	if err := r.db.DB.QueryRowContext(ctx, r.stmts.selectReceived, order.ID).Scan(&received); err != nil {
		return Order{}, fmt.Errorf("read back order %s: %w", order.ID, err)
	}
	if received.Valid {
		order.ReceivedAt = received.Time.UTC()
	}

	logger.Log.Debug("Inserted remote order", zap.String("id", order.ID))
	return order, nil
}

// InsertOrderItems writes every item in one remote transaction, so the call
// either stores the whole set or none of it.
func (r *SQLRepository) InsertOrderItems(ctx context.Context, items []OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.stmts.upsertItem)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, it.OrderID, it.LineNo, it.ProductID, it.VariantID,
				it.Quantity, it.UnitPrice, it.LineTotal, it.TaxRate); err != nil {
				return fmt.Errorf("order %s line %d: %w", it.OrderID, it.LineNo, err)
			}
		}
		return nil
	})
}

func (r *SQLRepository) UpsertCustomer(ctx context.Context, c Customer) error {
	if c.ID == "" {
		return fmt.Errorf("%w: customer without id", ErrInvalid)
	}
	_, err := r.db.DB.ExecContext(ctx, r.stmts.upsertCustomer,
		c.ID, nullable(c.Email), nullable(c.Phone), c.Name, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLRepository) SelectInventory(ctx context.Context, filter InventoryFilter) ([]InventoryRow, error) {
	var b strings.Builder
	b.WriteString(r.stmts.selectInventory)
	var args []any
	if filter.LocationID != "" {
		b.WriteString(" WHERE location_id = " + r.placeholder(1))
		args = append(args, filter.LocationID)
	}
	b.WriteString(" ORDER BY product_id, variant_id, location_id")

	rows, err := r.db.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select inventory: %w", err)
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var (
			row     InventoryRow
			updated sql.NullTime
		)
		if err := rows.Scan(&row.ProductID, &row.VariantID, &row.LocationID, &row.SKU, &row.Title,
			&row.CurrentStock, &row.ReservedStock, &updated); err != nil {
			return nil, err
		}
		if updated.Valid {
			row.UpdatedAt = updated.Time.UTC()
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLRepository) SelectRecentCustomers(ctx context.Context, since time.Time) ([]CustomerRow, error) {
	rows, err := r.db.DB.QueryContext(ctx, r.stmts.selectCustomers, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var out []CustomerRow
	for rows.Next() {
		var (
			row          CustomerRow
			email, phone sql.NullString
			updated      sql.NullTime
		)
		if err := rows.Scan(&row.ID, &email, &phone, &row.Name, &row.CreatedAt, &updated); err != nil {
			return nil, err
		}
		if email.Valid {
			row.Email = &email.String
		}
		if phone.Valid {
			row.Phone = &phone.String
		}
		row.CreatedAt = row.CreatedAt.UTC()
		if updated.Valid {
			row.UpdatedAt = updated.Time.UTC()
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
