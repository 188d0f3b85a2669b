package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sugvoyage/sugvoyage/internal/pkg/config"
	"github.com/sugvoyage/sugvoyage/internal/pkg/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Client-side spot discovery against a SugVoyage API",
	Long: `Polls the spot catalog of a running API and prints a discovery whenever
spots come within range of the current position. Positions can be changed
while running by writing "lat,lon" lines to stdin.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load("sugvoyage-watcher")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
