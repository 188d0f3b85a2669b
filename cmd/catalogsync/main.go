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
	Use:   "catalogsync",
	Short: "Import spot feeds into the SugVoyage catalog",
	Long:  "Runs the Temporal worker that loads spot feeds into Postgres and announces catalog updates over NATS.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load("sugvoyage-catalogsync")
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
