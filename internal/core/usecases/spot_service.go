package usecases

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
)

const (
	defaultSpotLimit = 20
	maxSpotLimit     = 50
)

// SpotService answers catalog queries: listing, lookup, nearby search and
// recommendations.
type SpotService struct {
	catalog       ports.SpotCatalog
	spots         ports.SpotRepository
	defaultRadius float64
	maxRadius     float64
	log           *slog.Logger
}

// NewSpotService creates a new SpotService.
func NewSpotService(catalog ports.SpotCatalog, spots ports.SpotRepository, defaultRadius, maxRadius float64) *SpotService {
	return &SpotService{
		catalog:       catalog,
		spots:         spots,
		defaultRadius: defaultRadius,
		maxRadius:     maxRadius,
		log:           slog.Default().With("component", "spots"),
	}
}

// List returns a page of spots ordered by ID, optionally restricted to a
// category, and the total number of matching spots.
func (s *SpotService) List(ctx context.Context, category string, offset, limit int) ([]domain.Spot, int, error) {
	all, err := s.catalog.Spots(ctx)
	if err != nil {
		return nil, 0, err
	}

	filtered := all
	if category != "" {
		want := domain.ParseSpotCategory(category)
		filtered = make([]domain.Spot, 0, len(all))
		for _, sp := range all {
			if sp.Category == want {
				filtered = append(filtered, sp)
			}
		}
	}

	total := len(filtered)
	if offset >= total {
		return []domain.Spot{}, total, nil
	}
	end := min(offset+clampLimit(limit), total)
	page := make([]domain.Spot, end-offset)
	copy(page, filtered[offset:end])
	return page, total, nil
}

// GetByID returns a single spot.
func (s *SpotService) GetByID(ctx context.Context, id string) (*domain.Spot, error) {
	if strings.TrimSpace(id) == "" {
		return nil, eris.Wrap(domain.ErrNotFound, "spot id must not be empty")
	}
	return s.catalog.GetByID(ctx, id)
}

// FindNearby returns up to limit spots within radiusMeters of center, nearest
// first. When the catalog is unavailable it falls back to the repository's
// spatial index.
func (s *SpotService) FindNearby(ctx context.Context, center domain.GeoPoint, radiusMeters float64, limit int) ([]domain.MatchedSpot, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	radius := normalizeRadius(radiusMeters, s.defaultRadius, s.maxRadius)
	limit = clampLimit(limit)

	all, err := s.catalog.Spots(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrCatalogUnavailable) || s.spots == nil {
			return nil, err
		}
		s.log.WarnContext(ctx, "catalog unavailable, querying repository", "error", err)
		return s.spots.FindNearby(ctx, center, radius, limit)
	}

	matched := proximity.FilterInRadius(center, radius, all)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Recommend returns spots in range or, when there are none and fallbackN > 0,
// the fallbackN nearest spots flagged as a fallback.
func (s *SpotService) Recommend(ctx context.Context, center domain.GeoPoint, radiusMeters float64, fallbackN int) (domain.Recommendation, error) {
	if err := center.Validate(); err != nil {
		return domain.Recommendation{}, err
	}
	all, err := s.catalog.Spots(ctx)
	if err != nil {
		return domain.Recommendation{}, err
	}
	radius := normalizeRadius(radiusMeters, s.defaultRadius, s.maxRadius)
	return proximity.Recommend(center, radius, all, proximity.FallbackPolicy{NearestN: fallbackN}), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSpotLimit
	}
	if limit > maxSpotLimit {
		return maxSpotLimit
	}
	return limit
}
