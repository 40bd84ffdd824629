// geo/geofence.go: pure geofence math, no DB, no HTTP.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for NaN/Inf or out-of-range lat/lon input.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects NaN/Inf and out-of-range coordinates.
func Validate(p Point) error {
	return validate(p)
}

func validate(p Point) error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) ||
		math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return ErrInvalidCoordinate
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters
// (haversine formula).
func Distance(a, b Point) (float64, error) {
	if err := validate(a); err != nil {
		return 0, err
	}
	if err := validate(b); err != nil {
		return 0, err
	}

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h))), nil
}

// WithinRadius reports whether user is inside the circular geofence centered
// on quest. The boundary is inclusive: distance == radius counts as inside.
func WithinRadius(user, quest Point, radiusMeters float64) (bool, error) {
	if math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 0) || radiusMeters < 0 {
		return false, ErrInvalidCoordinate
	}
	d, err := Distance(user, quest)
	if err != nil {
		return false, err
	}
	return d <= radiusMeters, nil
}
