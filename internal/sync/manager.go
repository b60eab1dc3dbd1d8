package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/monitor"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/store"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDraining    Phase = "draining-queue"
	PhaseReconciling Phase = "reconciling-downloads"
)

const (
	SkipOffline  = "offline"
	SkipInFlight = "in_flight"
)

// ConnectionSource is the part of the connection monitor the manager needs.
type ConnectionSource interface {
	State() monitor.State
	Subscribe() (<-chan monitor.Transition, func())
}

type Options struct {
	BatchSize         int
	MaxBatchesPerPass int
	EntryTimeout      time.Duration
}

// PassResult summarises one sync pass.
type PassResult struct {
	ID          string          `json:"id,omitempty"`
	Trigger     string          `json:"trigger"`
	Skipped     string          `json:"skipped,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Attempted   int             `json:"attempted"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Stuck       int             `json:"stuck"`
	Reconcile   ReconcileResult `json:"reconcile"`
	Error       string          `json:"error,omitempty"`
}

// Status is the read-only view rendered by the host application.
type Status struct {
	ConnectionState monitor.State `json:"connection_state"`
	PendingCount    int64         `json:"pending_count"`
	StuckCount      int64         `json:"stuck_count"`
	SyncInProgress  bool          `json:"sync_in_progress"`
	Phase           Phase         `json:"phase"`
	Paused          bool          `json:"paused"`
	LastPass        *PassResult   `json:"last_pass,omitempty"`
}

// Manager runs sync passes: drain the queue through the routines, then
// refresh the read caches. Only one pass runs at a time. All durable state
// lives in the store; the manager only keeps counters.
type Manager struct {
	store      store.Store
	queue      *queue.Queue
	conn       ConnectionSource
	routines   *Routines
	reconciler *Reconciler
	events     *Hub
	opts       Options

	inFlight atomic.Bool
	paused   atomic.Bool
	phase    atomic.Value
	trigger  chan struct{}

	mu       sync.Mutex
	lastPass *PassResult
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewManager(s store.Store, q *queue.Queue, conn ConnectionSource, routines *Routines, reconciler *Reconciler, events *Hub, opts Options) *Manager {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxBatchesPerPass <= 0 {
		opts.MaxBatchesPerPass = 10
	}
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = 15 * time.Second
	}
	if events == nil {
		events = NewHub()
	}
	m := &Manager{
		store:      s,
		queue:      q,
		conn:       conn,
		routines:   routines,
		reconciler: reconciler,
		events:     events,
		opts:       opts,
		trigger:    make(chan struct{}, 1),
	}
	m.phase.Store(PhaseIdle)
	return m
}

func (m *Manager) Events() *Hub {
	return m.events
}

// PerformSync runs a scheduled pass.
func (m *Manager) PerformSync(ctx context.Context) (PassResult, error) {
	return m.runPass(ctx, "scheduled")
}

// ForceSync runs a pass now, outside the timer. The offline and single-flight
// guards still apply. Callers wanting a deadline must bound ctx themselves.
func (m *Manager) ForceSync(ctx context.Context) (PassResult, error) {
	return m.runPass(ctx, "manual")
}

// Trigger asks the background loop for a pass. Requests made while one is
// already queued collapse into it.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Manager) InProgress() bool {
	return m.inFlight.Load()
}

// Pause stops timer and connectivity driven passes. ForceSync still works.
func (m *Manager) Pause() {
	if !m.paused.Swap(true) {
		logger.Log.Info("Background sync paused")
	}
}

func (m *Manager) Resume() {
	if m.paused.Swap(false) {
		logger.Log.Info("Background sync resumed")
		m.Trigger()
	}
}

// Start launches the background loop. It reacts to Trigger and to the link
// coming back online.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})

	transitions, unsubscribe := m.conn.Subscribe()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unsubscribe()
		m.run(ctx, transitions)
	}()

	logger.Log.Info("Sync manager started",
		zap.Int("batch_size", m.opts.BatchSize),
		zap.Int("max_batches_per_pass", m.opts.MaxBatchesPerPass),
		zap.Int("max_retries", m.queue.MaxRetries()),
	)
	return nil
}

// Stop ends the background loop. A pass already running is allowed to
// finish first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logger.Log.Info("Sync manager stopped")
}

func (m *Manager) run(ctx context.Context, transitions <-chan monitor.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case t := <-transitions:
			m.events.Publish(EventConnection, t)
			if t.To == monitor.Online && !m.paused.Load() {
				m.background(ctx, "connectivity")
			}
		case <-m.trigger:
			if m.paused.Load() {
				logger.Log.Debug("Background sync paused, ignoring trigger")
				continue
			}
			m.background(ctx, "scheduled")
		}
	}
}

func (m *Manager) background(ctx context.Context, reason string) {
	if _, err := m.runPass(ctx, reason); err != nil {
		logger.Log.Error("Sync pass failed", zap.String("trigger", reason), zap.Error(err))
	}
}

func (m *Manager) runPass(ctx context.Context, reason string) (PassResult, error) {
	res := PassResult{Trigger: reason, StartedAt: time.Now().UTC()}

	if !m.inFlight.CompareAndSwap(false, true) {
		logger.Log.Debug("Sync already in progress, skipping", zap.String("trigger", reason))
		res.Skipped = SkipInFlight
		return res, nil
	}
	defer func() {
		m.phase.Store(PhaseIdle)
		m.inFlight.Store(false)
	}()

	if m.conn.State() == monitor.Offline {
		logger.Log.Debug("Offline, skipping sync pass", zap.String("trigger", reason))
		res.Skipped = SkipOffline
		res.CompletedAt = time.Now().UTC()
		m.events.Publish(EventPassSkipped, res)
		return res, nil
	}

	res.ID = uuid.New().String()
	history := &store.SyncHistory{ID: res.ID, StartedAt: res.StartedAt, Status: "running"}
	if err := m.store.CreateSyncHistory(ctx, history); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}
	m.events.Publish(EventPassStarted, res)
	logger.Log.Info("Sync pass started", zap.String("id", res.ID), zap.String("trigger", reason))

	m.phase.Store(PhaseDraining)
	drainErr := m.drain(ctx, &res)

	m.phase.Store(PhaseReconciling)
	if ctx.Err() == nil && m.conn.State() != monitor.Offline {
		rec, err := m.reconciler.Run(ctx)
		res.Reconcile = rec
		if err != nil {
			logger.Log.Warn("Download reconciliation incomplete", zap.Error(err))
		}
	}

	res.CompletedAt = time.Now().UTC()
	completed := res.CompletedAt
	history.CompletedAt = &completed
	history.Attempted = res.Attempted
	history.Succeeded = res.Succeeded
	history.Failed = res.Failed
	history.Downloaded = res.Reconcile.Downloaded()
	switch {
	case drainErr != nil:
		history.Status = "failed"
		history.ErrorMessage = drainErr.Error()
		res.Error = drainErr.Error()
	case res.Failed > 0:
		history.Status = "partial"
	default:
		history.Status = "completed"
	}
	if err := m.store.UpdateSyncHistory(context.WithoutCancel(ctx), history); err != nil {
		logger.Log.Warn("Failed to update sync history", zap.Error(err))
	}

	m.mu.Lock()
	last := res
	m.lastPass = &last
	m.mu.Unlock()

	m.events.Publish(EventPassFinished, res)
	logger.Log.Info("Sync pass finished",
		zap.String("id", res.ID),
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("downloaded", res.Reconcile.Downloaded()),
		zap.Duration("took", res.CompletedAt.Sub(res.StartedAt)),
	)

	if drainErr != nil {
		return res, drainErr
	}
	return res, nil
}

// Status reports connection state and queue depth. It does not modify
// anything.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{
		ConnectionState: m.conn.State(),
		SyncInProgress:  m.inFlight.Load(),
		Phase:           m.phase.Load().(Phase),
		Paused:          m.paused.Load(),
	}
	m.mu.Lock()
	if m.lastPass != nil {
		last := *m.lastPass
		st.LastPass = &last
	}
	m.mu.Unlock()

	var err error
	if st.PendingCount, err = m.queue.Pending(ctx); err != nil {
		return st, err
	}
	if st.StuckCount, err = m.queue.Stuck(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Stats returns row counts per table.
func (m *Manager) Stats(ctx context.Context) (*store.Stats, error) {
	return m.store.Stats(ctx, m.queue.MaxRetries())
}

// RetryStuck makes entries that exhausted their retries eligible again and
// asks for a pass.
func (m *Manager) RetryStuck(ctx context.Context) (int64, error) {
	n, err := m.queue.Retry(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.Trigger()
	}
	return n, nil
}

func isAlreadySynced(err error) bool {
	return errors.Is(err, store.ErrAlreadySynced)
}
