package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/events"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
	"shuttle/internal/utils"
)

// BookingService owns the booking lifecycle: Active on create, then
// Cancelled by the owner or deleted by a cascade.
type BookingService struct {
	Store  repositories.Store
	Ledger *ledger.Ledger
	Deps
}

type CreateBookingInput struct {
	JourneyID string
	Seats     int
	Pickup    models.Coordinate
}

// BookingView is a booking with the route details a traveller needs.
type BookingView struct {
	models.Booking
	OriginCity      string    `json:"origin_city"`
	DestinationCity string    `json:"destination_city"`
	DepartureTime   time.Time `json:"departure_time"`
}

// CreateBooking checks, in order: seats, journey existence, departure,
// duplicate, pickup geofence and capacity. The seat reservation and the
// insert commit together.
func (s BookingService) CreateBooking(ctx context.Context, rc domain.RequestContext, in CreateBookingInput) (models.Booking, error) {
	if err := rc.Require(domain.CapBook); err != nil {
		return models.Booking{}, err
	}
	if in.Seats < 1 {
		return models.Booking{}, domain.ValidationError{Field: "seats", Msg: "must book at least 1 seat", Err: domain.ErrInvalidSeats}
	}

	var created models.Booking
	err := s.Ledger.Atomically(ctx, []string{in.JourneyID}, func(lt *ledger.Tx) error {
		return s.Store.Tx(ctx, func(q repositories.Queries) error {
			j, err := q.GetJourney(ctx, in.JourneyID, true)
			if err != nil {
				return err
			}
			now := s.now()
			if j.DepartedBy(now) {
				return domain.ValidationError{Field: "journey_id", Msg: "cannot book a journey that has departed", Err: domain.ErrJourneyInPast}
			}

			// the role in rc may predate a role change; the locked row is authoritative
			u, err := q.GetUserForUpdate(ctx, rc.UserID)
			if err != nil {
				return err
			}
			if !u.Role.Can(domain.CapBook) {
				return domain.ForbiddenError{Msg: fmt.Sprintf("role %s may not perform %s", u.Role, domain.CapBook)}
			}
			if _, found, err := q.FindActiveBooking(ctx, j.ID, rc.UserID); err != nil {
				return err
			} else if found {
				return domain.ConflictError{Resource: "booking", Msg: "you already have a booking for this journey", Err: domain.ErrDuplicateBooking}
			}

			origin, err := q.GetCity(ctx, j.OriginCityID)
			if err != nil {
				return domain.InternalError{Msg: "origin city missing for journey " + j.ID, Err: err}
			}
			inside, err := utils.IsWithinRadius(in.Pickup, origin.Center(), origin.PickupRadiusKm)
			if err != nil {
				return err
			}
			if !inside {
				return domain.ValidationError{
					Field: "pickup",
					Msg:   fmt.Sprintf("pickup point must be within %g km of %s city center", origin.PickupRadiusKm, origin.Name),
					Err:   domain.ErrOutsidePickupRadius,
				}
			}

			if err := lt.Reserve(j.ID, in.Seats, false); err != nil {
				return err
			}

			created = models.Booking{
				ID:        s.newID(),
				JourneyID: j.ID,
				UserID:    rc.UserID,
				Seats:     in.Seats,
				PickupLat: in.Pickup.Lat,
				PickupLng: in.Pickup.Lng,
				Status:    models.BookingActive,
				CreatedAt: now,
			}
			return q.InsertBooking(ctx, created)
		})
	})
	if err != nil {
		return models.Booking{}, err
	}

	utils.LogEvent(ctx, s.log(), "booking", "create", "booking created",
		zap.String("booking_id", created.ID),
		zap.String("journey_id", created.JourneyID),
		zap.Int("seats", created.Seats),
	)
	s.events().Publish(ctx, events.TopicBookingCreated, events.BookingPayload{
		BookingID: created.ID, JourneyID: created.JourneyID, UserID: created.UserID, Seats: created.Seats,
	})
	return created, nil
}

// CancelBooking releases the seats of an owner's active booking on a journey
// that has not departed yet.
func (s BookingService) CancelBooking(ctx context.Context, rc domain.RequestContext, bookingID string) (models.Booking, error) {
	if err := rc.Require(domain.CapCancelOwn); err != nil {
		return models.Booking{}, err
	}
	current, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if current.UserID != rc.UserID {
		return models.Booking{}, domain.ForbiddenError{Msg: "you can only cancel your own bookings", Err: domain.ErrNotOwner}
	}

	var cancelled models.Booking
	err = s.Ledger.Atomically(ctx, []string{current.JourneyID}, func(lt *ledger.Tx) error {
		return s.Store.Tx(ctx, func(q repositories.Queries) error {
			b, err := q.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			if !b.IsActive() {
				return domain.ConflictError{Resource: "booking", Msg: "booking is already cancelled", Err: domain.ErrBookingNotActive}
			}
			j, err := q.GetJourney(ctx, b.JourneyID, true)
			if err != nil {
				return err
			}
			now := s.now()
			if j.DepartedBy(now) {
				return domain.ValidationError{Field: "booking_id", Msg: "cannot cancel bookings for departed journeys", Err: domain.ErrJourneyInPast}
			}
			if err := lt.Release(j.ID, b.Seats); err != nil {
				return err
			}
			b.Status = models.BookingCancelled
			b.CancelledAt = &now
			cancelled = b
			return q.UpdateBooking(ctx, b)
		})
	})
	if errors.Is(err, domain.ErrJourneyNotFound) {
		// the journey was deleted between the read and the lock, taking the booking with it
		return models.Booking{}, domain.NotFoundError{Resource: "booking " + bookingID, Err: domain.ErrBookingNotFound}
	}
	if err != nil {
		return models.Booking{}, err
	}

	utils.LogEvent(ctx, s.log(), "booking", "cancel", "booking cancelled",
		zap.String("booking_id", cancelled.ID),
		zap.String("journey_id", cancelled.JourneyID),
		zap.Int("seats_released", cancelled.Seats),
	)
	s.events().Publish(ctx, events.TopicBookingCancelled, events.BookingPayload{
		BookingID: cancelled.ID, JourneyID: cancelled.JourneyID, UserID: cancelled.UserID, Seats: cancelled.Seats,
	})
	return cancelled, nil
}

// AdminUpdateBooking changes seats and/or pickup without the geofence or
// capacity checks. The ledger still moves by the seat difference.
func (s BookingService) AdminUpdateBooking(ctx context.Context, rc domain.RequestContext, bookingID string, upd models.BookingUpdate) (models.Booking, error) {
	if err := rc.Require(domain.CapManageBookings); err != nil {
		return models.Booking{}, err
	}
	if upd.Seats != nil && *upd.Seats < 1 {
		return models.Booking{}, domain.ValidationError{Field: "seats", Msg: "must book at least 1 seat", Err: domain.ErrInvalidSeats}
	}
	if upd.Pickup != nil {
		if err := utils.ValidateCoordinate(*upd.Pickup); err != nil {
			return models.Booking{}, err
		}
	}

	current, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}

	var updated models.Booking
	var overbooked int
	err = s.Ledger.Atomically(ctx, []string{current.JourneyID}, func(lt *ledger.Tx) error {
		return s.Store.Tx(ctx, func(q repositories.Queries) error {
			b, err := q.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			if !b.IsActive() {
				return domain.ConflictError{Resource: "booking", Msg: "only active bookings can be edited", Err: domain.ErrBookingNotActive}
			}
			if upd.Seats != nil && *upd.Seats != b.Seats {
				if err := lt.Release(b.JourneyID, b.Seats); err != nil {
					return err
				}
				if err := lt.Reserve(b.JourneyID, *upd.Seats, true); err != nil {
					return err
				}
				b.Seats = *upd.Seats
				if avail := lt.Available(b.JourneyID); avail < 0 {
					overbooked = -avail
				}
			}
			if upd.Pickup != nil {
				b.PickupLat, b.PickupLng = upd.Pickup.Lat, upd.Pickup.Lng
			}
			updated = b
			return q.UpdateBooking(ctx, b)
		})
	})
	if err != nil {
		return models.Booking{}, err
	}

	fields := []zap.Field{
		zap.String("booking_id", updated.ID),
		zap.String("journey_id", updated.JourneyID),
		zap.Int("seats", updated.Seats),
	}
	if overbooked > 0 {
		fields = append(fields, zap.Int("overbooked_by", overbooked))
	}
	utils.LogEvent(ctx, s.log(), "booking", "admin_update", "booking updated by admin", fields...)
	s.events().Publish(ctx, events.TopicBookingUpdated, events.BookingPayload{
		BookingID: updated.ID, JourneyID: updated.JourneyID, UserID: updated.UserID, Seats: updated.Seats,
	})
	return updated, nil
}

func (s BookingService) ListMyBookings(ctx context.Context, rc domain.RequestContext) ([]BookingView, error) {
	if err := rc.Require(domain.CapListOwnBookings); err != nil {
		return nil, err
	}
	bookings, err := s.Store.ListBookings(ctx, models.BookingFilter{UserID: rc.UserID})
	if err != nil {
		return nil, err
	}
	return bookingViews(ctx, s.Store, bookings)
}

func (s BookingService) ListAllBookings(ctx context.Context, rc domain.RequestContext, f models.BookingFilter) ([]BookingView, error) {
	if err := rc.Require(domain.CapManageBookings); err != nil {
		return nil, err
	}
	bookings, err := s.Store.ListBookings(ctx, f)
	if err != nil {
		return nil, err
	}
	return bookingViews(ctx, s.Store, bookings)
}

// GetBooking returns a booking to its owner or to an admin.
func (s BookingService) GetBooking(ctx context.Context, rc domain.RequestContext, bookingID string) (BookingView, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return BookingView{}, err
	}
	if b.UserID != rc.UserID && !rc.Role.Can(domain.CapManageBookings) {
		return BookingView{}, domain.ForbiddenError{Msg: "booking belongs to another user", Err: domain.ErrNotOwner}
	}
	views, err := bookingViews(ctx, s.Store, []models.Booking{b})
	if err != nil {
		return BookingView{}, err
	}
	if len(views) == 0 {
		return BookingView{}, domain.NotFoundError{Resource: "booking " + bookingID, Err: domain.ErrBookingNotFound}
	}
	return views[0], nil
}

func bookingViews(ctx context.Context, q repositories.Queries, bookings []models.Booking) ([]BookingView, error) {
	cities, err := cityNames(ctx, q)
	if err != nil {
		return nil, err
	}
	journeys := map[string]models.Journey{}
	out := make([]BookingView, 0, len(bookings))
	for _, b := range bookings {
		j, ok := journeys[b.JourneyID]
		if !ok {
			j, err = q.GetJourney(ctx, b.JourneyID, false)
			if domain.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			journeys[b.JourneyID] = j
		}
		out = append(out, BookingView{
			Booking:         b,
			OriginCity:      cities[j.OriginCityID],
			DestinationCity: cities[j.DestinationCityID],
			DepartureTime:   j.DepartureTime,
		})
	}
	return out, nil
}

func cityNames(ctx context.Context, q repositories.Queries) (map[int64]string, error) {
	cities, err := q.ListCities(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(cities))
	for _, c := range cities {
		names[c.ID] = c.Name
	}
	return names, nil
}
