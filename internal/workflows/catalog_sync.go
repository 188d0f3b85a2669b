package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// CatalogSyncInput is the input for the catalog sync workflow.
type CatalogSyncInput struct {
	// Source is the path of a JSON spot feed readable by the worker.
	Source string
}

// CatalogSyncResult summarises a completed sync.
type CatalogSyncResult struct {
	Source    string
	Spots     int
	Published bool
}

// CatalogSyncWorkflow loads a spot feed, upserts it into the catalog store and
// tells running API instances to reload. A failed announcement does not undo
// the upsert; API instances pick the change up on their next periodic refresh.
func CatalogSyncWorkflow(ctx workflow.Context, input CatalogSyncInput) (CatalogSyncResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting catalog sync", "source", input.Source)

	result := CatalogSyncResult{Source: input.Source}

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidFeed},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var spots []SpotRecord
	if err := workflow.ExecuteActivity(ctx, "LoadSpotFeed", input.Source).Get(ctx, &spots); err != nil {
		return result, err
	}

	var upserted int
	if err := workflow.ExecuteActivity(ctx, "UpsertSpots", spots).Get(ctx, &upserted); err != nil {
		return result, err
	}
	result.Spots = upserted

	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	if err := workflow.ExecuteActivity(publishCtx, "PublishCatalogUpdated", input.Source).Get(ctx, nil); err != nil {
		logger.Warn("catalog update announcement failed", "error", err)
		return result, nil
	}
	result.Published = true

	logger.Info("Catalog sync finished", "spots", upserted)
	return result, nil
}
