package workflows_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/workflows"
)

type fakeSpotRepo struct {
	mu      sync.Mutex
	batches [][]domain.Spot
	err     error
}

func (f *fakeSpotRepo) ListAll(ctx context.Context) ([]domain.Spot, error)             { return nil, nil }
func (f *fakeSpotRepo) GetByID(ctx context.Context, id string) (*domain.Spot, error)   { return nil, domain.ErrNotFound }
func (f *fakeSpotRepo) Upsert(ctx context.Context, s *domain.Spot) error               { return nil }
func (f *fakeSpotRepo) FindNearby(ctx context.Context, c domain.GeoPoint, r float64, l int) ([]domain.MatchedSpot, error) {
	return nil, nil
}
func (f *fakeSpotRepo) UpsertBatch(ctx context.Context, spots []domain.Spot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]domain.Spot(nil), spots...))
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakePublisher) PublishDiscovery(ctx context.Context, e *domain.DiscoveryEvent) error { return nil }
func (f *fakePublisher) PublishCatalogUpdated(ctx context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return f.err
}

const cebuFeed = `[
  {"id":"magellans-cross","name":"Magellan's Cross","category":"heritage","latitude":10.2935,"longitude":123.9019},
  {"id":"fort-san-pedro","name":"Fort San Pedro","category":"Heritage","latitude":10.2925,"longitude":123.9056},
  {"id":"kawasan-falls","name":"Kawasan Falls","category":"waterfall","latitude":9.8037,"longitude":123.3740,
   "metadata":{"entrance_fee_php":40}}
]`

func writeFeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spots.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runSync(t *testing.T, acts *workflows.CatalogActivities, source string) (*testsuite.TestWorkflowEnvironment, workflows.CatalogSyncResult) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(workflows.CatalogSyncWorkflow)
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(workflows.CatalogSyncWorkflow, workflows.CatalogSyncInput{Source: source})
	require.True(t, env.IsWorkflowCompleted())

	var res workflows.CatalogSyncResult
	if env.GetWorkflowError() == nil {
		require.NoError(t, env.GetWorkflowResult(&res))
	}
	return env, res
}

func TestCatalogSyncWorkflow_Success(t *testing.T) {
	repo := &fakeSpotRepo{}
	pub := &fakePublisher{}
	feed := writeFeed(t, cebuFeed)

	env, res := runSync(t, &workflows.CatalogActivities{Spots: repo, Events: pub}, feed)

	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, res.Spots)
	assert.True(t, res.Published)
	require.Len(t, repo.batches, 1)
	got := repo.batches[0]
	assert.Equal(t, domain.CategoryHeritage, got[1].Category)
	assert.Equal(t, domain.CategoryOther, got[2].Category)
	assert.Equal(t, []string{feed}, pub.sources)
}

func TestCatalogSyncWorkflow_PublishFailureKeepsUpsert(t *testing.T) {
	repo := &fakeSpotRepo{}
	pub := &fakePublisher{err: errors.New("nats: no responders")}

	env, res := runSync(t, &workflows.CatalogActivities{Spots: repo, Events: pub}, writeFeed(t, cebuFeed))

	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, res.Spots)
	assert.False(t, res.Published)
	assert.Len(t, repo.batches, 1)
}

func TestCatalogSyncWorkflow_InvalidFeedIsNotRetried(t *testing.T) {
	repo := &fakeSpotRepo{}
	feed := writeFeed(t, `[{"id":"x","name":"Nowhere","latitude":123,"longitude":10}]`)

	env, _ := runSync(t, &workflows.CatalogActivities{Spots: repo}, feed)

	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid coordinates")
	assert.Empty(t, repo.batches)
}

func TestCatalogSyncWorkflow_UpsertFailure(t *testing.T) {
	repo := &fakeSpotRepo{err: errors.New("connection reset")}
	pub := &fakePublisher{}

	env, _ := runSync(t, &workflows.CatalogActivities{Spots: repo, Events: pub}, writeFeed(t, cebuFeed))

	require.Error(t, env.GetWorkflowError())
	assert.Empty(t, pub.sources)
}

func TestCatalogSyncWorkflow_NoPublisher(t *testing.T) {
	env, res := runSync(t, &workflows.CatalogActivities{Spots: &fakeSpotRepo{}}, writeFeed(t, cebuFeed))

	require.NoError(t, env.GetWorkflowError())
	assert.True(t, res.Published)
}

func TestValidateFeed(t *testing.T) {
	tests := []struct {
		name    string
		records []workflows.SpotRecord
		wantErr string
	}{
		{name: "empty feed", records: nil},
		{name: "valid", records: []workflows.SpotRecord{{ID: "a", Name: "A", Latitude: 10.3, Longitude: 123.9}}},
		{name: "missing id", records: []workflows.SpotRecord{{Name: "A"}}, wantErr: "missing id"},
		{name: "missing name", records: []workflows.SpotRecord{{ID: "a"}}, wantErr: "missing name"},
		{
			name: "duplicate id",
			records: []workflows.SpotRecord{
				{ID: "a", Name: "A", Latitude: 10, Longitude: 123},
				{ID: "a", Name: "B", Latitude: 10, Longitude: 123},
			},
			wantErr: "duplicate id a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := workflows.ValidateFeed(tt.records)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
