package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
)

// ErrTypeInvalidFeed marks feed errors that retrying cannot fix.
const ErrTypeInvalidFeed = "InvalidSpotFeed"

const upsertChunk = 500

// SpotRecord is one entry of a spot feed file.
type SpotRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Spot converts the record into a catalog spot.
func (r SpotRecord) Spot() domain.Spot {
	return domain.Spot{
		ID:       strings.TrimSpace(r.ID),
		Name:     strings.TrimSpace(r.Name),
		Category: domain.ParseSpotCategory(r.Category),
		Location: domain.GeoPoint{Lat: r.Latitude, Lon: r.Longitude},
		Metadata: r.Metadata,
	}
}

// CatalogActivities holds the activity implementations for the catalog sync workflow.
type CatalogActivities struct {
	Spots  ports.SpotRepository
	Events ports.EventPublisher // optional
}

// LoadSpotFeed reads and validates a JSON array of spots.
func (a *CatalogActivities) LoadSpotFeed(ctx context.Context, source string) ([]SpotRecord, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, eris.Wrapf(err, "workflows: read feed %s", source)
	}

	var records []SpotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("decode feed %s: %v", source, err), ErrTypeInvalidFeed, err)
	}
	if err := ValidateFeed(records); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidFeed, err)
	}

	activity.GetLogger(ctx).Info("spot feed loaded", "source", source, "spots", len(records))
	return records, nil
}

// ValidateFeed rejects records without an ID or name, with coordinates
// outside WGS 84, or with duplicate IDs.
func ValidateFeed(records []SpotRecord) error {
	seen := make(map[string]int, len(records))
	var problems []string
	for i, r := range records {
		s := r.Spot()
		switch {
		case s.ID == "":
			problems = append(problems, fmt.Sprintf("entry %d: missing id", i))
		case s.Name == "":
			problems = append(problems, fmt.Sprintf("entry %d (%s): missing name", i, s.ID))
		case s.Location.Validate() != nil:
			problems = append(problems, fmt.Sprintf("entry %d (%s): invalid coordinates", i, s.ID))
		}
		if prev, dup := seen[s.ID]; dup && s.ID != "" {
			problems = append(problems, fmt.Sprintf("entry %d: duplicate id %s (first at %d)", i, s.ID, prev))
		}
		seen[s.ID] = i
	}
	if len(problems) > 0 {
		return eris.Errorf("invalid spot feed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// UpsertSpots writes the records to the catalog store in chunks and returns
// how many were written.
func (a *CatalogActivities) UpsertSpots(ctx context.Context, records []SpotRecord) (int, error) {
	spots := make([]domain.Spot, len(records))
	for i, r := range records {
		spots[i] = r.Spot()
	}

	written := 0
	for start := 0; start < len(spots); start += upsertChunk {
		end := min(start+upsertChunk, len(spots))
		if err := a.Spots.UpsertBatch(ctx, spots[start:end]); err != nil {
			return written, eris.Wrapf(err, "workflows: upsert spots %d-%d", start, end)
		}
		written = end
		activity.RecordHeartbeat(ctx, written)
	}
	return written, nil
}

// PublishCatalogUpdated tells API instances to drop their cached catalog.
func (a *CatalogActivities) PublishCatalogUpdated(ctx context.Context, source string) error {
	if a.Events == nil {
		activity.GetLogger(ctx).Warn("no event publisher configured, skipping announcement", "source", source)
		return nil
	}
	if err := a.Events.PublishCatalogUpdated(ctx, source); err != nil {
		return eris.Wrap(err, "workflows: publish catalog updated")
	}
	return nil
}
