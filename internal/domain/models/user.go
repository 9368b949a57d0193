package models

import (
	"time"

	"shuttle/internal/domain"
)

type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Role         domain.Role `json:"role"`
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PassengerPickup is what a driver sees for each booking on a journey.
type PassengerPickup struct {
	BookingID     string  `json:"booking_id"`
	PassengerName string  `json:"passenger_name"`
	Seats         int     `json:"seats"`
	PickupLat     float64 `json:"pickup_lat"`
	PickupLng     float64 `json:"pickup_lng"`
}
