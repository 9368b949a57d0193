package repositories

import (
	"context"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
)

// Queries is everything the services read or write. Inside Store.Tx the same
// methods run against the open transaction.
type Queries interface {
	GetCity(ctx context.Context, id int64) (models.City, error)
	ListCities(ctx context.Context) ([]models.City, error)

	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	// GetUserForUpdate serializes role changes against driver assignment.
	GetUserForUpdate(ctx context.Context, id string) (models.User, error)
	// ListUsers returns every user when role is empty.
	ListUsers(ctx context.Context, role domain.Role) ([]models.User, error)
	InsertUser(ctx context.Context, u models.User) error
	UpdateUserRole(ctx context.Context, id string, role domain.Role) error
	DeleteUser(ctx context.Context, id string) error

	// GetJourney locks the row for the rest of the transaction when forUpdate is set.
	GetJourney(ctx context.Context, id string, forUpdate bool) (models.Journey, error)
	ListJourneys(ctx context.Context, f models.JourneyFilter) ([]models.Journey, error)
	InsertJourney(ctx context.Context, j models.Journey) error
	UpdateJourney(ctx context.Context, j models.Journey) error
	DeleteJourney(ctx context.Context, id string) error
	SetJourneyDriver(ctx context.Context, journeyID string, driverID *string) error
	// ClearDriverForUser unassigns userID from every journey and returns the affected journey IDs.
	ClearDriverForUser(ctx context.Context, userID string) ([]string, error)

	GetBooking(ctx context.Context, id string) (models.Booking, error)
	FindActiveBooking(ctx context.Context, journeyID, userID string) (models.Booking, bool, error)
	InsertBooking(ctx context.Context, b models.Booking) error
	UpdateBooking(ctx context.Context, b models.Booking) error
	ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error)
	DeleteBookings(ctx context.Context, f models.BookingFilter) (int, error)
	ListPassengers(ctx context.Context, journeyID string) ([]models.PassengerPickup, error)

	// ReservedSeats sums seats over active bookings of a journey.
	ReservedSeats(ctx context.Context, journeyID string) (int, error)
}

type Store interface {
	Queries
	Tx(ctx context.Context, fn func(q Queries) error) error
}

// CapacitySource feeds the capacity ledger from a Store.
type CapacitySource struct {
	Store Queries
}

func (s CapacitySource) JourneyCapacity(ctx context.Context, journeyID string) (int, int, error) {
	j, err := s.Store.GetJourney(ctx, journeyID, false)
	if err != nil {
		return 0, 0, err
	}
	reserved, err := s.Store.ReservedSeats(ctx, journeyID)
	if err != nil {
		return 0, 0, err
	}
	return j.TotalSeats, reserved, nil
}

func journeyNotFound(id string) error {
	return domain.NotFoundError{Resource: "journey " + id, Err: domain.ErrJourneyNotFound}
}

func bookingNotFound(id string) error {
	return domain.NotFoundError{Resource: "booking " + id, Err: domain.ErrBookingNotFound}
}

func userNotFound(id string) error {
	return domain.NotFoundError{Resource: "user " + id, Err: domain.ErrUserNotFound}
}

func cityNotFound() error {
	return domain.NotFoundError{Resource: "city", Err: domain.ErrCityNotFound}
}

// DefaultCities is the reference data both stores start with.
var DefaultCities = []models.City{
	{ID: 1, Name: "Jakarta", CenterLat: -6.2088, CenterLng: 106.8456, PickupRadiusKm: 10},
	{ID: 2, Name: "Bandung", CenterLat: -6.9175, CenterLng: 107.6191, PickupRadiusKm: 7},
}
