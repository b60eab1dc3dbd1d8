package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const customerColumns = `id, email, phone, name, created_at, last_sync, pending_upload`

func scanCustomer(row rowScanner) (*CustomerCache, error) {
	var (
		c         CustomerCache
		email     sql.NullString
		phone     sql.NullString
		createdAt int64
		lastSync  sql.NullInt64
	)
	if err := row.Scan(&c.ID, &email, &phone, &c.Name, &createdAt, &lastSync, &c.PendingUpload); err != nil {
		return nil, err
	}
	c.Email = fromNullString(email)
	c.Phone = fromNullString(phone)
	c.CreatedAt = fromMillis(createdAt)
	c.LastSync = fromNullMillis(lastSync)
	return &c, nil
}

// CreateCustomer stores a customer captured at the till together with its
// queue entry. The row stays local-authoritative until uploaded.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *CustomerCache) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("customer id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.PendingUpload = true
	c.LastSync = nil

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode customer payload: %w", err)
	}

	err = s.execTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM customer_cache WHERE id = ?`, c.ID).Scan(&exists)
		if err == nil {
			return ErrDuplicateID
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO customer_cache (`+customerColumns+`)
			VALUES (?, ?, ?, ?, ?, NULL, 1)`,
			c.ID, nullString(c.Email), nullString(c.Phone), c.Name, toMillis(c.CreatedAt)); err != nil {
			return err
		}

		_, err = s.enqueueTx(ctx, tx, OpCreate, TableCustomers, payload, c.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("customer %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*CustomerCache, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customer_cache WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// UpsertCustomersFromRemote applies downloaded customers. Remote wins, except
// for rows created locally that have not been uploaded yet.
func (s *SQLiteStore) UpsertCustomersFromRemote(ctx context.Context, rows []CustomerCache) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := toMillis(s.now())
	applied := 0
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO customer_cache (`+customerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(id) DO UPDATE SET
				email = excluded.email,
				phone = excluded.phone,
				name = excluded.name,
				created_at = excluded.created_at,
				last_sync = excluded.last_sync
			WHERE customer_cache.pending_upload = 0`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range rows {
			res, err := stmt.ExecContext(ctx, c.ID, nullString(c.Email), nullString(c.Phone), c.Name,
				toMillis(c.CreatedAt), now)
			if err != nil {
				return fmt.Errorf("customer %s: %w", c.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				applied++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert customers: %w", err)
	}
	return applied, nil
}

func (s *SQLiteStore) listUnsyncedCustomers(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customer_cache
		WHERE pending_upload = 1 ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
