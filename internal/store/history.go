package store

import (
	"context"
	"database/sql"
	"time"
)

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, attempted, succeeded, failed, downloaded, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		history.ID,
		toMillis(history.StartedAt),
		nullMillis(history.CompletedAt),
		history.Attempted,
		history.Succeeded,
		history.Failed,
		history.Downloaded,
		history.Status,
		history.ErrorMessage,
	)

	return err
}

func (s *SQLiteStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, attempted = ?, succeeded = ?, failed = ?, downloaded = ?,
			  status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		nullMillis(history.CompletedAt),
		history.Attempted,
		history.Succeeded,
		history.Failed,
		history.Downloaded,
		history.Status,
		history.ErrorMessage,
		history.ID,
	)

	return err
}

func (s *SQLiteStore) ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, attempted, succeeded, failed, downloaded, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var (
			h           SyncHistory
			startedAt   int64
			completedAt sql.NullInt64
		)
		err := rows.Scan(
			&h.ID,
			&startedAt,
			&completedAt,
			&h.Attempted,
			&h.Succeeded,
			&h.Failed,
			&h.Downloaded,
			&h.Status,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		h.StartedAt = fromMillis(startedAt)
		h.CompletedAt = fromNullMillis(completedAt)
		history = append(history, &h)
	}

	return history, rows.Err()
}

// PurgeSynced deletes synced transactions, completed queue entries and
// finished history rows older than before. Nothing pending is touched.
func (s *SQLiteStore) PurgeSynced(ctx context.Context, before time.Time) (PurgeResult, error) {
	var result PurgeResult
	cutoff := toMillis(before)

	err := s.execTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pending_transactions
			WHERE status = 'synced' AND last_sync_attempt IS NOT NULL AND last_sync_attempt < ?`, cutoff)
		if err != nil {
			return err
		}
		result.Transactions, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM sync_queue
			WHERE synced = 1 AND synced_at IS NOT NULL AND synced_at < ?`, cutoff)
		if err != nil {
			return err
		}
		result.QueueEntries, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM sync_history
			WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
		if err != nil {
			return err
		}
		result.History, _ = res.RowsAffected()
		return nil
	})
	return result, err
}

func (s *SQLiteStore) Stats(ctx context.Context, maxRetries int) (*Stats, error) {
	var st Stats
	query := `SELECT
		(SELECT COUNT(*) FROM pending_transactions),
		(SELECT COUNT(*) FROM pending_transactions WHERE status != 'synced'),
		(SELECT COUNT(*) FROM inventory_snapshot),
		(SELECT COUNT(*) FROM inventory_snapshot WHERE dirty = 1),
		(SELECT COUNT(*) FROM customer_cache),
		(SELECT COUNT(*) FROM customer_cache WHERE pending_upload = 1),
		(SELECT COUNT(*) FROM sync_queue),
		(SELECT COUNT(*) FROM sync_queue WHERE synced = 0),
		(SELECT COUNT(*) FROM sync_queue WHERE synced = 0 AND retry_count >= ?)`
	err := s.db.QueryRowContext(ctx, query, maxRetries).Scan(
		&st.Transactions.Total, &st.Transactions.Unsynced,
		&st.Inventory.Total, &st.Inventory.Unsynced,
		&st.Customers.Total, &st.Customers.Unsynced,
		&st.Queue.Total, &st.Queue.Unsynced,
		&st.QueueStuck,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
