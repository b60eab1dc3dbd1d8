package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pos-sync",
	Short: "Offline-first point-of-sale sync service",
	Long: `pos-sync keeps point-of-sale writes in a local SQLite store and uploads
them to the authoritative store whenever the link allows.

Sales, stock decrements and new customers are committed locally first, so
checkout never waits on the network.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file (empty for defaults and env only)")
	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
