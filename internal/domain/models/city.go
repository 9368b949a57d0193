package models

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// City is seeded reference data; journeys point at it by ID.
type City struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	CenterLat      float64 `json:"center_lat"`
	CenterLng      float64 `json:"center_lng"`
	PickupRadiusKm float64 `json:"pickup_radius_km"`
}

func (c City) Center() Coordinate {
	return Coordinate{Lat: c.CenterLat, Lng: c.CenterLng}
}
