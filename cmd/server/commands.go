package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"pos-sync-service/internal/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Probe the link and run one sync pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			a.monitor.ProbeNow(ctx)
			return a.manager.ForceSync(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state, queue depth and table counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			a.monitor.ProbeNow(ctx)
			status, err := a.manager.Status(ctx)
			if err != nil {
				return nil, err
			}
			stats, err := a.manager.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": status, "stats": stats}, nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete synced rows older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.sweeper.Sweep(ctx)
		})
	},
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
