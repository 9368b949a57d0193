package models

import "time"

type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a traveller's reservation of seats on a journey.
type Booking struct {
	ID          string        `json:"id"`
	JourneyID   string        `json:"journey_id"`
	UserID      string        `json:"user_id"`
	Seats       int           `json:"seats"`
	PickupLat   float64       `json:"pickup_lat"`
	PickupLng   float64       `json:"pickup_lng"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
}

func (b Booking) IsActive() bool { return b.Status == BookingActive }

func (b Booking) Pickup() Coordinate {
	return Coordinate{Lat: b.PickupLat, Lng: b.PickupLng}
}

// BookingUpdate is the admin edit payload; nil fields stay unchanged.
type BookingUpdate struct {
	Seats  *int
	Pickup *Coordinate
}

type BookingFilter struct {
	JourneyID  string
	UserID     string
	ActiveOnly bool
}
