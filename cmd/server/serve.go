package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pos-sync-service/internal/api"
	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("Starting POS sync service",
		zap.String("device_id", cfg.Sync.DeviceID),
		zap.String("remote", cfg.Remote.Driver),
	)

	if configPath != "" && rootCmd.PersistentFlags().Changed("config") {
		config.Watch(configPath, func(next *config.Config) {
			if err := logger.SetLevel(next.Logging.Level); err != nil {
				logger.Log.Warn("Ignoring log level from reloaded config", zap.Error(err))
				return
			}
			logger.Log.Info("Config reloaded", zap.String("log_level", next.Logging.Level))
		}, func(err error) {
			logger.Log.Warn("Config reload failed", zap.Error(err))
		})
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// The monitor probes once before the first pass can run.
	a.monitor.Start(ctx)
	defer a.monitor.Stop()

	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	defer a.manager.Stop()

	scheduler := sync.NewScheduler(cfg.Scheduler, cfg.Store.SweepSchedule, a.manager, a.sweeper)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	handler := api.NewHandler(a.manager, a.store, a.monitor, cfg.Sync, cfg.Server)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Server shutdown incomplete", zap.Error(err))
	}
	return nil
}
