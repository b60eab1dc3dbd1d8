// Package queue is the sync queue: a durable, ordered log of local mutations
// waiting to be uploaded. It is a view over the store's sync_queue table.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

type Queue struct {
	store      store.Store
	maxRetries int
}

func New(s store.Store, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Queue{store: s, maxRetries: maxRetries}
}

func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends an entry. It only fails when the store is unavailable or
// the payload cannot be encoded.
func (q *Queue) Enqueue(ctx context.Context, op store.Operation, table string, payload any) (*store.SyncQueueEntry, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", table, err)
		}
		raw = b
	}
	entry, err := q.store.Enqueue(ctx, op, table, raw)
	if err != nil {
		return nil, err
	}
	logger.Log.Debug("Enqueued mutation",
		zap.String("id", entry.ID),
		zap.String("operation", string(op)),
		zap.String("table", table),
	)
	return entry, nil
}

// DequeueBatch returns up to max retryable entries, oldest first. Entries
// are not removed; Complete or Fail settles them.
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]*store.SyncQueueEntry, error) {
	return q.DequeueAfter(ctx, 0, max)
}

// DequeueAfter is DequeueBatch starting after the given sequence number, so
// one drain never sees the same entry twice.
func (q *Queue) DequeueAfter(ctx context.Context, afterSeq int64, max int) ([]*store.SyncQueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	return q.store.PendingEntries(ctx, afterSeq, max, q.maxRetries)
}

func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.store.CompleteEntry(ctx, id)
}

// Fail records reason against the entry and reports whether it has now used
// up its retries.
func (q *Queue) Fail(ctx context.Context, id, reason string) (stuck bool, err error) {
	count, err := q.store.FailEntry(ctx, id, reason)
	if err != nil {
		return false, err
	}
	return count >= q.maxRetries, nil
}

// Park marks an entry as never retryable without dropping it.
func (q *Queue) Park(ctx context.Context, id, reason string) error {
	return q.store.ForceStuck(ctx, id, reason, q.maxRetries)
}

// Retry puts every stuck entry back in line.
func (q *Queue) Retry(ctx context.Context) (int64, error) {
	n, err := q.store.ResetRetries(ctx, q.maxRetries)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Info("Reset stuck queue entries", zap.Int64("count", n))
	}
	return n, nil
}

func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.store.CountPending(ctx)
}

func (q *Queue) Stuck(ctx context.Context) (int64, error) {
	return q.store.CountStuck(ctx, q.maxRetries)
}
