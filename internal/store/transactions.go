package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

const transactionColumns = `id, store_id, customer_id, items, payment_method, subtotal, tax, discount, total,
	status, captured_at, device_id, receipt_number, retry_count, last_sync_attempt, last_error, signature`

// AppendTransaction writes tx and its create queue entry atomically.
// A repeated id returns ErrDuplicateID and writes nothing.
func (s *SQLiteStore) AppendTransaction(ctx context.Context, tx *PendingTransaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("transaction id is required")
	}
	if !tx.TotalsValid() {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrInvalidTotals)
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.CapturedAt.IsZero() {
		tx.CapturedAt = s.now().UTC()
	}

	items, err := json.Marshal(tx.Items)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction payload: %w", err)
	}

	err = s.execTx(ctx, func(dbtx *sql.Tx) error {
		var exists int
		err := dbtx.QueryRowContext(ctx, `SELECT 1 FROM pending_transactions WHERE id = ?`, tx.ID).Scan(&exists)
		if err == nil {
			return ErrDuplicateID
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = dbtx.ExecContext(ctx, `INSERT INTO pending_transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.StoreID, nullString(tx.CustomerID), string(items), tx.PaymentMethod,
			tx.Subtotal, tx.Tax, tx.Discount, tx.Total,
			string(tx.Status), toMillis(tx.CapturedAt), tx.DeviceID, tx.ReceiptNumber,
			tx.RetryCount, nullMillis(tx.LastSyncAttempt), tx.LastError, tx.Signature,
		)
		if err != nil {
			return err
		}

		_, err = s.enqueueTx(ctx, dbtx, OpCreate, TableTransactions, payload, tx.CapturedAt)
		return err
	})
	if errors.Is(err, ErrDuplicateID) {
		logger.Log.Debug("Ignoring resubmitted transaction", zap.String("id", tx.ID))
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*PendingTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM pending_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*PendingTransaction, error) {
	var (
		tx          PendingTransaction
		customerID  sql.NullString
		items       string
		status      string
		capturedAt  int64
		lastAttempt sql.NullInt64
	)
	err := row.Scan(
		&tx.ID, &tx.StoreID, &customerID, &items, &tx.PaymentMethod,
		&tx.Subtotal, &tx.Tax, &tx.Discount, &tx.Total,
		&status, &capturedAt, &tx.DeviceID, &tx.ReceiptNumber,
		&tx.RetryCount, &lastAttempt, &tx.LastError, &tx.Signature,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &tx.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", tx.ID, err)
	}
	tx.CustomerID = fromNullString(customerID)
	tx.Status = TransactionStatus(status)
	tx.CapturedAt = fromMillis(capturedAt)
	tx.LastSyncAttempt = fromNullMillis(lastAttempt)
	return &tx, nil
}

func (s *SQLiteStore) listUnsyncedTransactions(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM pending_transactions
		WHERE status != 'synced' ORDER BY captured_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListUnsynced returns the JSON form of every row of table that is not yet
// synced, oldest first. Upload order depends on this ordering.
func (s *SQLiteStore) ListUnsynced(ctx context.Context, table string) ([]json.RawMessage, error) {
	switch table {
	case TableTransactions:
		return s.listUnsyncedTransactions(ctx)
	case TableCustomers:
		return s.listUnsyncedCustomers(ctx)
	case TableInventory:
		return s.listDirtyInventory(ctx)
	case TableSyncQueue:
		entries, err := s.PendingEntries(ctx, 0, -1, 0)
		if err != nil {
			return nil, err
		}
		out := make([]json.RawMessage, 0, len(entries))
		for _, e := range entries {
			b, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
}

// MarkSynced records a successful upload of a source row. It is idempotent.
func (s *SQLiteStore) MarkSynced(ctx context.Context, table, id string) error {
	now := toMillis(s.now())
	var err error
	switch table {
	case TableTransactions:
		_, err = s.db.ExecContext(ctx, `UPDATE pending_transactions
			SET status = 'synced', last_sync_attempt = ?, last_error = ''
			WHERE id = ?`, now, id)
	case TableCustomers:
		_, err = s.db.ExecContext(ctx, `UPDATE customer_cache
			SET pending_upload = 0, last_sync = ? WHERE id = ?`, now, id)
	case TableInventory:
		// Stock is download-only; local decrements stay observational.
		return nil
	case TableSyncQueue:
		return s.CompleteEntry(ctx, id)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return err
}

// MarkFailed records a failed upload. Rows already synced are left alone
// and ErrAlreadySynced is returned.
func (s *SQLiteStore) MarkFailed(ctx context.Context, table, id string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	now := toMillis(s.now())

	var (
		res sql.Result
		err error
	)
	switch table {
	case TableTransactions:
		res, err = s.db.ExecContext(ctx, `UPDATE pending_transactions
			SET status = 'failed', retry_count = retry_count + 1, last_sync_attempt = ?, last_error = ?
			WHERE id = ? AND status != 'synced'`, now, reason, id)
	case TableCustomers:
		// Customers carry no failure fields; the queue entry records the error.
		var pending bool
		err = s.db.QueryRowContext(ctx, `SELECT pending_upload FROM customer_cache WHERE id = ?`, id).Scan(&pending)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !pending {
			return fmt.Errorf("%s %s: %w", table, id, ErrAlreadySynced)
		}
		return nil
	case TableInventory:
		return nil
	case TableSyncQueue:
		_, err = s.FailEntry(ctx, id, reason)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetTransaction(ctx, id); err != nil {
			return fmt.Errorf("%s %s: %w", table, id, err)
		}
		return fmt.Errorf("%s %s: %w", table, id, ErrAlreadySynced)
	}
	return nil
}

func newEntryID() string {
	return uuid.NewString()
}
