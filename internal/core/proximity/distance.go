// Package proximity holds the pure geofencing rules: great-circle distance,
// radius filtering and the notification cooldown gate.
package proximity

import (
	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/pkg/geospatial"
)

// DistanceMeters returns the haversine distance between a and b in meters.
func DistanceMeters(a, b domain.GeoPoint) float64 {
	return geospatial.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}
