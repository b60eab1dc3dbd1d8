package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const queueColumns = `seq, id, operation, table_name, payload, created_at, retry_count, last_error, synced, synced_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) enqueueTx(ctx context.Context, db execer, op Operation, table string, payload json.RawMessage, at time.Time) (*SyncQueueEntry, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("invalid queue operation %q", op)
	}
	entry := &SyncQueueEntry{
		ID:        newEntryID(),
		Operation: op,
		Table:     table,
		Payload:   payload,
		CreatedAt: at.UTC(),
	}
	res, err := db.ExecContext(ctx, `INSERT INTO sync_queue (id, operation, table_name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, string(op), table, string(payload), toMillis(entry.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s %s: %w", op, table, err)
	}
	entry.Seq, _ = res.LastInsertId()
	return entry, nil
}

// Enqueue appends a standalone queue entry. Writers that also change an
// entity row use the entity method so both land in one transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, op Operation, table string, payload json.RawMessage) (*SyncQueueEntry, error) {
	return s.enqueueTx(ctx, s.db, op, table, payload, s.now())
}

func scanEntry(row rowScanner) (*SyncQueueEntry, error) {
	var (
		e         SyncQueueEntry
		op        string
		payload   string
		createdAt int64
		syncedAt  sql.NullInt64
	)
	if err := row.Scan(&e.Seq, &e.ID, &op, &e.Table, &payload, &createdAt,
		&e.RetryCount, &e.LastError, &e.Synced, &syncedAt); err != nil {
		return nil, err
	}
	e.Operation = Operation(op)
	e.Payload = json.RawMessage(payload)
	e.CreatedAt = fromMillis(createdAt)
	e.SyncedAt = fromNullMillis(syncedAt)
	return &e, nil
}

// PendingEntries returns unsynced entries with seq > afterSeq in enqueue
// order. A negative limit means no limit; maxRetries > 0 hides entries that
// have already failed that many times.
func (s *SQLiteStore) PendingEntries(ctx context.Context, afterSeq int64, limit, maxRetries int) ([]*SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE synced = 0 AND seq > ?`
	args := []any{afterSeq}
	if maxRetries > 0 {
		query += ` AND retry_count < ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*SyncQueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CompleteEntry flags an entry as synced. The row is kept for audit until
// the retention sweep removes it.
func (s *SQLiteStore) CompleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET synced = 1, synced_at = ?, last_error = ''
		WHERE id = ? AND synced = 0`, toMillis(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err := s.entryState(ctx, id); !errors.Is(err, ErrAlreadySynced) {
			return err
		}
	}
	return nil
}

// FailEntry bumps the retry count of a pending entry and returns the new count.
func (s *SQLiteStore) FailEntry(ctx context.Context, id, reason string) (int, error) {
	var count int
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?
			WHERE id = ? AND synced = 0`, reason, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadySynced
		}
		return tx.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count)
	})
	if errors.Is(err, ErrAlreadySynced) {
		return 0, s.entryState(ctx, id)
	}
	return count, err
}

// ForceStuck parks an entry that can never succeed so automatic drains skip
// it. It stays pending for an operator to inspect.
func (s *SQLiteStore) ForceStuck(ctx context.Context, id, reason string, maxRetries int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET retry_count = MAX(retry_count, ?), last_error = ?
		WHERE id = ? AND synced = 0`, maxRetries, reason, id)
	return err
}

// ResetRetries makes stuck entries eligible for automatic drains again.
func (s *SQLiteStore) ResetRetries(ctx context.Context, maxRetries int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET retry_count = 0
		WHERE synced = 0 AND retry_count >= ?`, maxRetries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountStuck(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0 AND retry_count >= ?`,
		maxRetries).Scan(&n)
	return n, err
}

func (s *SQLiteStore) entryState(ctx context.Context, id string) error {
	var synced bool
	err := s.db.QueryRowContext(ctx, `SELECT synced FROM sync_queue WHERE id = ?`, id).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if synced {
		return fmt.Errorf("queue entry %s: %w", id, ErrAlreadySynced)
	}
	return nil
}
