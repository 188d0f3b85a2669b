package domain

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sugvoyage/sugvoyage/internal/pkg/geospatial"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate returns ErrInvalidPosition when the point is not a finite WGS 84 coordinate.
func (p GeoPoint) Validate() error {
	if !isFinite(p.Lat) || !isFinite(p.Lon) {
		return eris.Wrap(ErrInvalidPosition, "coordinates must be finite")
	}
	if !geospatial.ValidCoordinate(p.Lat, p.Lon) {
		return eris.Wrapf(ErrInvalidPosition, "(%.6f, %.6f) outside WGS 84 range", p.Lat, p.Lon)
	}
	return nil
}

// LocationReport is a position update sent by a client.
// A zero RadiusMeters means "use the configured default".
type LocationReport struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters,omitempty"`
}

// Point returns the reported position.
func (r LocationReport) Point() GeoPoint {
	return GeoPoint{Lat: r.Latitude, Lon: r.Longitude}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
