package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/database"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/monitor"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/remote"
	"pos-sync-service/internal/store"
	"pos-sync-service/internal/sync"
)

// app holds every long-lived component. The store is opened once and handed
// to everything that needs it.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	remoteDB *database.Database
	repo     remote.Repository
	monitor  *monitor.Monitor
	queue    *queue.Queue
	events   *sync.Hub
	manager  *sync.Manager
	sweeper  *sync.Sweeper
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
			path = ""
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Store.FilePath)
	if err != nil {
		return nil, err
	}

	repo, remoteDB, err := newRepository(ctx, cfg.Remote)
	if err != nil {
		st.Close()
		return nil, err
	}

	prober, err := newProber(cfg)
	if err != nil {
		st.Close()
		if remoteDB != nil {
			remoteDB.Close()
		}
		return nil, err
	}

	mon := monitor.New(prober, monitor.Options{
		Interval:      cfg.Monitor.GetProbeInterval(),
		Timeout:       cfg.Monitor.GetProbeTimeout(),
		SlowThreshold: cfg.Monitor.GetSlowThreshold(),
		AssumeLinkUp:  cfg.Monitor.AssumeLinkUp,
	})

	q := queue.New(st, cfg.Sync.MaxRetries)
	events := sync.NewHub()

	var signingKey []byte
	if cfg.Sync.SigningKey != "" {
		signingKey = []byte(cfg.Sync.SigningKey)
	}

	manager := sync.NewManager(st, q, mon,
		sync.NewRoutines(repo, signingKey),
		sync.NewReconciler(st, repo, cfg.Sync.LocationID, cfg.Sync.GetCustomerLookback()),
		events,
		sync.Options{
			BatchSize:         cfg.Sync.BatchSize,
			MaxBatchesPerPass: cfg.Sync.MaxBatchesPerPass,
			EntryTimeout:      cfg.Remote.GetTimeout(),
		},
	)

	return &app{
		cfg:      cfg,
		store:    st,
		remoteDB: remoteDB,
		repo:     repo,
		monitor:  mon,
		queue:    q,
		events:   events,
		manager:  manager,
		sweeper:  sync.NewSweeper(st, cfg.Store.GetRetention(), events),
	}, nil
}

func (a *app) Close() {
	if a.remoteDB != nil {
		if err := a.remoteDB.Close(); err != nil {
			logger.Log.Warn("Failed to close remote pool", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Log.Warn("Failed to close local store", zap.Error(err))
	}
}

func newRepository(ctx context.Context, cfg config.RemoteConfig) (remote.Repository, *database.Database, error) {
	if cfg.Driver == "memory" {
		logger.Log.Warn("Using in-memory remote store; uploads are not persisted")
		return remote.NewMemory(), nil, nil
	}
	db, err := database.NewDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := remote.NewSQLRepository(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

func newProber(cfg *config.Config) (monitor.Prober, error) {
	switch cfg.Monitor.Probe {
	case "mysql":
		return &monitor.MySQLProber{
			Addr:     net.JoinHostPort(cfg.Remote.Host, strconv.Itoa(cfg.Remote.Port)),
			User:     cfg.Remote.User,
			Password: cfg.Remote.Password,
			Database: cfg.Remote.Database,
		}, nil
	case "http":
		if cfg.Monitor.ProbeURL == "" {
			if cfg.Remote.Driver == "memory" {
				return monitor.ProberFunc(func(context.Context) (time.Duration, error) { return 0, nil }), nil
			}
			return nil, fmt.Errorf("monitor.probe_url is required for the http probe")
		}
		return &monitor.HTTPProber{URL: cfg.Monitor.ProbeURL}, nil
	}
	return nil, fmt.Errorf("unsupported probe %q", cfg.Monitor.Probe)
}
