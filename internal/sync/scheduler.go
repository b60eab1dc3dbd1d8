package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Scheduler fires the fixed sync timer and the retention sweep.
type Scheduler struct {
	cfg           config.SchedulerConfig
	sweepSchedule string
	manager       *Manager
	sweeper       *Sweeper
	cron          *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, sweepSchedule string, manager *Manager, sweeper *Sweeper) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		sweepSchedule: sweepSchedule,
		manager:       manager,
		sweeper:       sweeper,
		cron:          cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if s.cfg.Enabled {
		logger.Log.Info("Starting sync timer", zap.String("interval", s.cfg.Interval))
		if _, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync); err != nil {
			return err
		}
	} else {
		logger.Log.Info("Sync timer is disabled")
	}

	if s.sweeper != nil && s.sweepSchedule != "" {
		logger.Log.Info("Scheduling retention sweep", zap.String("schedule", s.sweepSchedule))
		if _, err := s.cron.AddFunc(s.sweepSchedule, s.runSweep); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) triggerSync() {
	if s.manager.InProgress() {
		logger.Log.Debug("Sync already running, skipping scheduled run")
		return
	}
	s.manager.Trigger()
}

func (s *Scheduler) runSweep() {
	_, _ = s.sweeper.Sweep(context.Background())
}
