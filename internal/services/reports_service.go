package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
)

type OccupancyFilter struct {
	From *time.Time
	To   *time.Time
}

// JourneyOccupancy is one row of the occupancy report. InSync is false when
// the ledger and the stored active bookings disagree.
type JourneyOccupancy struct {
	JourneyID         string    `json:"journey_id"`
	OriginCity        string    `json:"origin_city"`
	DestinationCity   string    `json:"destination_city"`
	DepartureTime     time.Time `json:"departure_time"`
	TotalSeats        int       `json:"total_seats"`
	ReservedSeats     int       `json:"reserved_seats"`
	AvailableSeats    int       `json:"available_seats"`
	ActiveBookings    int       `json:"active_bookings"`
	CancelledBookings int       `json:"cancelled_bookings"`
	StoredReserved    int       `json:"stored_reserved"`
	InSync            bool      `json:"in_sync"`
}

type ReportsService struct {
	Store  repositories.Store
	Ledger *ledger.Ledger
	Deps
}

// Occupancy reports seat usage per journey departing within the filter range.
func (s ReportsService) Occupancy(ctx context.Context, rc domain.RequestContext, f OccupancyFilter) ([]JourneyOccupancy, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return nil, err
	}
	journeys, err := s.Store.ListJourneys(ctx, models.JourneyFilter{})
	if err != nil {
		return nil, err
	}
	cities, err := cityNames(ctx, s.Store)
	if err != nil {
		return nil, err
	}

	out := []JourneyOccupancy{}
	for _, j := range journeys {
		if f.From != nil && j.DepartureTime.Before(*f.From) {
			continue
		}
		if f.To != nil && j.DepartureTime.After(*f.To) {
			continue
		}
		row, err := s.journeyOccupancy(ctx, j)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		row.OriginCity = cities[j.OriginCityID]
		row.DestinationCity = cities[j.DestinationCityID]
		if !row.InSync {
			s.log().Error("ledger out of sync with stored bookings",
				zap.String("journey_id", j.ID),
				zap.Int("ledger_reserved", row.ReservedSeats),
				zap.Int("stored_reserved", row.StoredReserved),
			)
			// stored bookings are authoritative; the next access reloads from them
			s.Ledger.Forget(j.ID)
		}
		out = append(out, row)
	}
	return out, nil
}

// journeyOccupancy reads the ledger and the store under the journey's lock so
// both sides describe the same moment.
func (s ReportsService) journeyOccupancy(ctx context.Context, j models.Journey) (JourneyOccupancy, error) {
	row := JourneyOccupancy{JourneyID: j.ID, DepartureTime: j.DepartureTime}
	err := s.Ledger.Atomically(ctx, []string{j.ID}, func(lt *ledger.Tx) error {
		bookings, err := s.Store.ListBookings(ctx, models.BookingFilter{JourneyID: j.ID})
		if err != nil {
			return err
		}
		for _, b := range bookings {
			if b.IsActive() {
				row.ActiveBookings++
				row.StoredReserved += b.Seats
			} else {
				row.CancelledBookings++
			}
		}
		row.TotalSeats = lt.Total(j.ID)
		row.ReservedSeats = lt.Reserved(j.ID)
		row.AvailableSeats = lt.Available(j.ID)
		return nil
	})
	row.InSync = row.ReservedSeats == row.StoredReserved
	return row, err
}
