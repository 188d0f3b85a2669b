package main

import (
	"context"
	"log/slog"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/sugvoyage/sugvoyage/internal/adapters/nats"
	"github.com/sugvoyage/sugvoyage/internal/adapters/postgres"
	"github.com/sugvoyage/sugvoyage/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the catalog sync worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
		if err != nil {
			return eris.Wrap(err, "catalogsync: database")
		}
		defer db.Close()

		acts := &workflows.CatalogActivities{Spots: postgres.NewSpotRepo(db)}
		if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
			slog.Warn("nats unavailable, catalog updates will not be announced", "error", err)
		} else {
			defer pub.Close()
			acts.Events = pub
		}

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
		w.RegisterWorkflow(workflows.CatalogSyncWorkflow)
		w.RegisterActivity(acts)

		slog.Info("catalog sync worker started", "task_queue", cfg.Temporal.TaskQueue)
		return w.Run(worker.InterruptCh())
	},
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    slogAdapter{slog.Default()},
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalogsync: temporal client")
	}
	return c, nil
}

// slogAdapter satisfies the Temporal SDK logger with slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(msg string, kv ...any) { a.l.Log(context.Background(), slog.LevelDebug, msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
func (a slogAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }

func init() { rootCmd.AddCommand(workerCmd) }
