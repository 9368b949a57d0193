package models

import "time"

// Journey is one scheduled trip. DriverID is a weak reference to a user.
type Journey struct {
	ID                string    `json:"id"`
	OriginCityID      int64     `json:"origin_city_id"`
	DestinationCityID int64     `json:"destination_city_id"`
	DepartureTime     time.Time `json:"departure_time"`
	TotalSeats        int       `json:"total_seats"`
	DriverID          *string   `json:"driver_id"`
	CreatedAt         time.Time `json:"created_at"`
}

func (j Journey) HasDriver() bool { return j.DriverID != nil && *j.DriverID != "" }

// DepartedBy reports whether departure is at or before now.
func (j Journey) DepartedBy(now time.Time) bool { return !j.DepartureTime.After(now) }

// JourneyUpdate supports PATCH-style updates via pointer presence.
type JourneyUpdate struct {
	OriginCityID      *int64
	DestinationCityID *int64
	DepartureTime     *time.Time
	TotalSeats        *int
}

type JourneyFilter struct {
	DriverID       string
	DepartingAfter *time.Time
}
