package utils

import (
	"fmt"
	"math"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
)

const EarthRadiusKm = 6371.0

// ValidateCoordinate rejects NaN/Inf and out-of-range degrees.
func ValidateCoordinate(p models.Coordinate) error {
	switch {
	case math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90:
		return domain.ValidationError{Field: "lat", Msg: fmt.Sprintf("latitude %v out of range", p.Lat), Err: domain.ErrInvalidCoordinate}
	case math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180:
		return domain.ValidationError{Field: "lng", Msg: fmt.Sprintf("longitude %v out of range", p.Lng), Err: domain.ErrInvalidCoordinate}
	}
	return nil
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// IsWithinRadius reports whether point lies within radiusKm of center.
// The boundary is inclusive.
func IsWithinRadius(point, center models.Coordinate, radiusKm float64) (bool, error) {
	if err := ValidateCoordinate(point); err != nil {
		return false, err
	}
	if err := ValidateCoordinate(center); err != nil {
		return false, err
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 {
		return false, domain.ValidationError{Field: "radius_km", Msg: "radius must be a non-negative number"}
	}
	return HaversineKm(point, center) <= radiusKm, nil
}
