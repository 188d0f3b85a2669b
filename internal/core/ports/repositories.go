package ports

import (
	"context"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// SpotRepository persists the spot catalog.
type SpotRepository interface {
	ListAll(ctx context.Context) ([]domain.Spot, error)
	GetByID(ctx context.Context, id string) (*domain.Spot, error)
	Upsert(ctx context.Context, spot *domain.Spot) error
	UpsertBatch(ctx context.Context, spots []domain.Spot) error
	// FindNearby returns spots within radiusMeters ordered by distance.
	FindNearby(ctx context.Context, center domain.GeoPoint, radiusMeters float64, limit int) ([]domain.MatchedSpot, error)
}
