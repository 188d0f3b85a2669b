package proximity

import "github.com/sugvoyage/sugvoyage/internal/core/domain"

// FallbackPolicy controls what Recommend returns when nothing is in range.
// NearestN <= 0 disables the fallback.
type FallbackPolicy struct {
	NearestN int
}

// Recommend filters spots by radius. When the filter is empty and the policy
// allows it, the NearestN closest spots are returned regardless of distance
// and the result is flagged as a fallback.
func Recommend(center domain.GeoPoint, radiusMeters float64, spots []domain.Spot, policy FallbackPolicy) domain.Recommendation {
	matched := FilterInRadius(center, radiusMeters, spots)
	if len(matched) > 0 || policy.NearestN <= 0 || len(spots) == 0 {
		return domain.Recommendation{Spots: matched}
	}

	all := make([]domain.MatchedSpot, 0, len(spots))
	for _, s := range spots {
		all = append(all, domain.MatchedSpot{Spot: s, DistanceMeters: DistanceMeters(center, s.Location)})
	}
	SortByDistance(all)
	if len(all) > policy.NearestN {
		all = all[:policy.NearestN]
	}
	return domain.Recommendation{Spots: all, Fallback: true}
}
