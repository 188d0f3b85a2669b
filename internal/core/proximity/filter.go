package proximity

import (
	"cmp"
	"math"
	"slices"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// FilterInRadius returns the spots whose distance from center is at most
// radiusMeters, nearest first. Equal distances are ordered by spot ID.
// The result is never nil.
func FilterInRadius(center domain.GeoPoint, radiusMeters float64, spots []domain.Spot) []domain.MatchedSpot {
	out := make([]domain.MatchedSpot, 0)
	if math.IsNaN(radiusMeters) || radiusMeters < 0 {
		return out
	}
	for _, s := range spots {
		d := DistanceMeters(center, s.Location)
		if d <= radiusMeters {
			out = append(out, domain.MatchedSpot{Spot: s, DistanceMeters: d})
		}
	}
	SortByDistance(out)
	return out
}

// SortByDistance orders matches nearest first, breaking ties by ID.
func SortByDistance(matches []domain.MatchedSpot) {
	slices.SortStableFunc(matches, func(a, b domain.MatchedSpot) int {
		if c := cmp.Compare(a.DistanceMeters, b.DistanceMeters); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
