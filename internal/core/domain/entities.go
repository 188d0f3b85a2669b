package domain

import (
	"fmt"
	"strings"
	"time"
)

// SpotCategory classifies a point of interest.
type SpotCategory string

const (
	CategoryAttraction    SpotCategory = "attraction"
	CategoryBeach         SpotCategory = "beach"
	CategoryHeritage      SpotCategory = "heritage"
	CategoryNature        SpotCategory = "nature"
	CategoryFood          SpotCategory = "food"
	CategoryShopping      SpotCategory = "shopping"
	CategoryAccommodation SpotCategory = "accommodation"
	CategoryOther         SpotCategory = "other"
)

// ParseSpotCategory maps free-form input to a known category. Unknown values become CategoryOther.
func ParseSpotCategory(s string) SpotCategory {
	switch c := SpotCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryAttraction, CategoryBeach, CategoryHeritage, CategoryNature,
		CategoryFood, CategoryShopping, CategoryAccommodation:
		return c
	default:
		return CategoryOther
	}
}

// Spot is a point of interest in the catalog (e.g. Magellan's Cross, Kawasan Falls).
type Spot struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Location GeoPoint       `json:"location"`
	Category SpotCategory   `json:"category"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MatchedSpot is a spot annotated with its distance from an observer.
type MatchedSpot struct {
	Spot
	DistanceMeters float64 `json:"distanceMeters"`
}

// UserSession is one observer's live-tracked state.
type UserSession struct {
	SessionID      string     `json:"sessionId"`
	LastPosition   GeoPoint   `json:"lastPosition"`
	RadiusMeters   float64    `json:"radiusMeters"`
	LastNotifiedAt *time.Time `json:"lastNotifiedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// DiscoveryEvent reports the spots found within a session's radius.
// MatchedSpots is ordered nearest first.
type DiscoveryEvent struct {
	SessionID    string        `json:"sessionId"`
	MatchedSpots []MatchedSpot `json:"matchedSpots"`
	TriggeredAt  time.Time     `json:"triggeredAt"`
}

// Nearest returns the closest matched spot.
func (e DiscoveryEvent) Nearest() (MatchedSpot, bool) {
	if len(e.MatchedSpots) == 0 {
		return MatchedSpot{}, false
	}
	return e.MatchedSpots[0], true
}

// DiscoveryPayload is the notification body delivered to clients.
type DiscoveryPayload struct {
	Message     string        `json:"message"`
	Count       int           `json:"count"`
	NearestSpot string        `json:"nearestSpot"`
	Spots       []MatchedSpot `json:"spots"`
}

// NewDiscoveryPayload summarises an event. Count covers every match while
// Spots is capped at maxSpots (no cap when maxSpots <= 0).
func NewDiscoveryPayload(e DiscoveryEvent, maxSpots int) DiscoveryPayload {
	spots := e.MatchedSpots
	if maxSpots > 0 && len(spots) > maxSpots {
		spots = spots[:maxSpots]
	}
	out := make([]MatchedSpot, len(spots))
	copy(out, spots)

	p := DiscoveryPayload{Count: len(e.MatchedSpots), Spots: out}
	if nearest, ok := e.Nearest(); ok {
		p.NearestSpot = nearest.Name
	}

	noun := "spots"
	if p.Count == 1 {
		noun = "spot"
	}
	p.Message = fmt.Sprintf("%d %s near you! Nearest: %s", p.Count, noun, p.NearestSpot)
	return p
}

// Recommendation is the result of an attraction recommendation query.
// Fallback is true when nothing was in range and the nearest spots were returned instead.
type Recommendation struct {
	Spots    []MatchedSpot `json:"spots"`
	Fallback bool          `json:"fallback"`
}

// CatalogSnapshot is an immutable view of the spot catalog.
// Holders must not modify Spots.
type CatalogSnapshot struct {
	Spots    []Spot
	LoadedAt time.Time
	Source   string // "cache" or "database"
}

// Age reports how old the snapshot is at now.
func (s *CatalogSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.LoadedAt)
}
