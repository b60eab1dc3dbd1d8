package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

// Sweeper prunes synced rows and completed queue entries once they are older
// than the retention window. Pending work is never touched.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	events    *Hub
	now       func() time.Time
}

func NewSweeper(s store.Store, retention time.Duration, events *Hub) *Sweeper {
	return &Sweeper{store: s, retention: retention, events: events, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (store.PurgeResult, error) {
	cutoff := s.now().Add(-s.retention)
	res, err := s.store.PurgeSynced(ctx, cutoff)
	if err != nil {
		logger.Log.Error("Retention sweep failed", zap.Error(err))
		return res, err
	}

	logger.Log.Info("Retention sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("transactions", res.Transactions),
		zap.Int64("queue_entries", res.QueueEntries),
		zap.Int64("history", res.History),
	)
	if s.events != nil {
		s.events.Publish(EventSweep, res)
	}
	return res, nil
}
