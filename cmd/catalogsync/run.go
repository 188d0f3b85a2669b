package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/sugvoyage/sugvoyage/internal/workflows"
)

var runCmd = &cobra.Command{
	Use:   "run <feed.json>",
	Short: "Start a catalog sync for a feed file and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := filepath.Abs(args[0])
		if err != nil {
			return eris.Wrap(err, "catalogsync: resolve feed path")
		}

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		run, err := c.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
			ID:        fmt.Sprintf("catalog-sync-%d", time.Now().Unix()),
			TaskQueue: cfg.Temporal.TaskQueue,
		}, workflows.CatalogSyncWorkflow, workflows.CatalogSyncInput{Source: source})
		if err != nil {
			return eris.Wrap(err, "catalogsync: start workflow")
		}

		var res workflows.CatalogSyncResult
		if err := run.Get(cmd.Context(), &res); err != nil {
			return eris.Wrapf(err, "catalogsync: workflow %s", run.GetID())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d spots from %s (announced: %t)\n", res.Spots, res.Source, res.Published)
		return nil
	},
}

func init() { rootCmd.AddCommand(runCmd) }
