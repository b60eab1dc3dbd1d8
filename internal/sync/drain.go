package sync

import (
	"context"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/monitor"
	"pos-sync-service/internal/store"
)

// drain walks the queue oldest first in batches. Entries are processed one
// at a time; a failing entry is recorded and the walk moves on. The cursor
// only moves forward so an entry left pending is not seen twice in a pass.
func (m *Manager) drain(ctx context.Context, res *PassResult) error {
	var after int64
	for batch := 0; batch < m.opts.MaxBatchesPerPass; batch++ {
		entries, err := m.queue.DequeueAfter(ctx, after, m.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		logger.Log.Debug("Processing batch", zap.Int("batch", batch), zap.Int("size", len(entries)))

		for _, e := range entries {
			if ctx.Err() != nil {
				return nil
			}
			if m.conn.State() == monitor.Offline {
				logger.Log.Info("Connection lost, stopping drain", zap.Int64("at_seq", e.Seq))
				return nil
			}
			after = e.Seq
			m.processEntry(ctx, e, res)
		}

		if len(entries) < m.opts.BatchSize {
			return nil
		}
	}
	return nil
}

func (m *Manager) processEntry(ctx context.Context, e *store.SyncQueueEntry, res *PassResult) {
	res.Attempted++

	mut, err := Decode(e)
	if err != nil {
		m.park(ctx, e, err, res)
		return
	}

	if m.sourceSynced(ctx, mut) {
		m.complete(ctx, mut, res)
		return
	}

	// The remote call is not cut short by ctx; an in-flight write finishes.
	entryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.EntryTimeout)
	err = m.routines.Apply(entryCtx, mut)
	cancel()

	if err != nil {
		if permanent(err) {
			m.park(ctx, e, err, res)
			if ferr := m.store.MarkFailed(ctx, mut.Table(), mut.SourceID(), err); ferr != nil && !isAlreadySynced(ferr) {
				logger.Log.Warn("Failed to mark source row failed", zap.String("id", mut.SourceID()), zap.Error(ferr))
			}
			return
		}
		m.fail(ctx, mut, err, res)
		return
	}
	m.complete(ctx, mut, res)
}

// sourceSynced reports whether the source row was already uploaded, which
// happens when a previous pass stopped between the two marks.
func (m *Manager) sourceSynced(ctx context.Context, mut Mutation) bool {
	switch mut := mut.(type) {
	case *TransactionMutation:
		tx, err := m.store.GetTransaction(ctx, mut.SourceID())
		return err == nil && tx.Status == store.StatusSynced
	case *CustomerMutation:
		c, err := m.store.GetCustomer(ctx, mut.SourceID())
		return err == nil && !c.PendingUpload && mut.Entry().Operation == store.OpCreate
	}
	return false
}

func (m *Manager) complete(ctx context.Context, mut Mutation, res *PassResult) {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.MarkSynced(ctx, mut.Table(), mut.SourceID()); err != nil {
		logger.Log.Error("Failed to mark source row synced",
			zap.String("table", mut.Table()),
			zap.String("id", mut.SourceID()),
			zap.Error(err),
		)
		res.Failed++
		return
	}
	if err := m.queue.Complete(ctx, mut.Entry().ID); err != nil {
		logger.Log.Error("Failed to complete queue entry", zap.String("entry", mut.Entry().ID), zap.Error(err))
		res.Failed++
		return
	}
	res.Succeeded++
}

func (m *Manager) fail(ctx context.Context, mut Mutation, cause error, res *PassResult) {
	ctx = context.WithoutCancel(ctx)
	res.Failed++
	e := mut.Entry()

	stuck, err := m.queue.Fail(ctx, e.ID, cause.Error())
	if err != nil {
		logger.Log.Error("Failed to record queue failure", zap.String("entry", e.ID), zap.Error(err))
		return
	}
	if err := m.store.MarkFailed(ctx, mut.Table(), mut.SourceID(), cause); err != nil && !isAlreadySynced(err) {
		logger.Log.Warn("Failed to mark source row failed", zap.String("id", mut.SourceID()), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("entry", e.ID),
		zap.String("table", e.Table),
		zap.String("id", mut.SourceID()),
		zap.Int("attempt", e.RetryCount+1),
		zap.Error(cause),
	}
	if stuck {
		res.Stuck++
		logger.Log.Error("Queue entry exhausted retries, needs operator attention", fields...)
		m.events.Publish(EventEntryStuck, entryEvent(e, cause))
		return
	}
	logger.Log.Warn("Sync entry failed, will retry next pass", fields...)
	m.events.Publish(EventEntryFailed, entryEvent(e, cause))
}

// park records a failure that retrying cannot fix. The entry stays pending
// but leaves the automatic drain.
func (m *Manager) park(ctx context.Context, e *store.SyncQueueEntry, cause error, res *PassResult) {
	ctx = context.WithoutCancel(ctx)
	res.Failed++
	res.Stuck++
	if err := m.queue.Park(ctx, e.ID, cause.Error()); err != nil {
		logger.Log.Error("Failed to park queue entry", zap.String("entry", e.ID), zap.Error(err))
	}
	logger.Log.Error("Queue entry cannot be synced",
		zap.String("entry", e.ID),
		zap.String("table", e.Table),
		zap.Error(cause),
	)
	m.events.Publish(EventEntryStuck, entryEvent(e, cause))
}

type entryInfo struct {
	ID    string `json:"id"`
	Table string `json:"table"`
	Error string `json:"error"`
}

func entryEvent(e *store.SyncQueueEntry, cause error) entryInfo {
	return entryInfo{ID: e.ID, Table: e.Table, Error: cause.Error()}
}
