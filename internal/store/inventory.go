package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const inventoryColumns = `product_id, variant_id, location_id, sku, title, current_stock, reserved_stock, last_sync, dirty`

func scanInventory(row rowScanner) (*InventorySnapshot, error) {
	var (
		inv      InventorySnapshot
		lastSync sql.NullInt64
	)
	err := row.Scan(&inv.ProductID, &inv.VariantID, &inv.LocationID, &inv.SKU, &inv.Title,
		&inv.CurrentStock, &inv.ReservedStock, &lastSync, &inv.Dirty)
	if err != nil {
		return nil, err
	}
	inv.LastSync = fromNullMillis(lastSync)
	return &inv, nil
}

func (s *SQLiteStore) GetInventory(ctx context.Context, productID, variantID, locationID string) (*InventorySnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory_snapshot
		WHERE product_id = ? AND variant_id = ? AND location_id = ?`, productID, variantID, locationID)
	inv, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// DecrementStock removes qty units at the point of sale and returns the
// remaining stock. The read, check and write run in one local transaction so
// concurrent checkouts cannot sell the same unit twice.
func (s *SQLiteStore) DecrementStock(ctx context.Context, productID, variantID, locationID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	var remaining int64
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT current_stock FROM inventory_snapshot
			WHERE product_id = ? AND variant_id = ? AND location_id = ?`,
			productID, variantID, locationID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if current < qty {
			return &InsufficientStockError{
				ProductID:  productID,
				VariantID:  variantID,
				LocationID: locationID,
				Available:  current,
				Requested:  qty,
			}
		}

		res, err := tx.ExecContext(ctx, `UPDATE inventory_snapshot
			SET current_stock = current_stock - ?, dirty = 1, dirty_since = COALESCE(dirty_since, ?)
			WHERE product_id = ? AND variant_id = ? AND location_id = ? AND current_stock >= ?`,
			qty, toMillis(s.now()), productID, variantID, locationID, qty)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return &InsufficientStockError{
				ProductID: productID, VariantID: variantID, LocationID: locationID,
				Available: current, Requested: qty,
			}
		}
		remaining = current - qty
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// UpsertInventory overwrites snapshot rows with remote values. The remote
// store is authoritative for stock, so local decrements are discarded.
func (s *SQLiteStore) UpsertInventory(ctx context.Context, rows []InventorySnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := toMillis(s.now())
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO inventory_snapshot (`+inventoryColumns+`, dirty_since)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
			ON CONFLICT(product_id, variant_id, location_id) DO UPDATE SET
				sku = excluded.sku,
				title = excluded.title,
				current_stock = excluded.current_stock,
				reserved_stock = excluded.reserved_stock,
				last_sync = excluded.last_sync,
				dirty = 0,
				dirty_since = NULL`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if r.CurrentStock < 0 {
				return fmt.Errorf("inventory %s: negative stock %d", r.Key(), r.CurrentStock)
			}
			if _, err := stmt.ExecContext(ctx, r.ProductID, r.VariantID, r.LocationID, r.SKU, r.Title,
				r.CurrentStock, r.ReservedStock, now); err != nil {
				return fmt.Errorf("inventory %s: %w", r.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert inventory: %w", err)
	}
	return len(rows), nil
}

func (s *SQLiteStore) listDirtyInventory(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+inventoryColumns+` FROM inventory_snapshot
		WHERE dirty = 1 ORDER BY dirty_since ASC, product_id, variant_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(inv)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
