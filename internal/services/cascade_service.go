package services

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/events"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
	"shuttle/internal/utils"
)

// maxLockAttempts bounds how often a user cascade re-reads its journey set
// when bookings appear on journeys it did not lock.
const maxLockAttempts = 5

var errJourneySetChanged = errors.New("journey set changed while locking")

// CascadeService propagates journey, driver and user mutations. Each
// operation is one store transaction inside one ledger block, so released
// seats and deleted bookings commit together.
type CascadeService struct {
	Store  repositories.Store
	Ledger *ledger.Ledger
	Deps
}

type JourneyDeletion struct {
	JourneyID       string `json:"journey_id"`
	BookingsRemoved int    `json:"bookings_removed"`
	SeatsReleased   int    `json:"seats_released"`
}

type UserCascade struct {
	UserID             string   `json:"user_id"`
	BookingsRemoved    int      `json:"bookings_removed"`
	SeatsReleased      int      `json:"seats_released"`
	JourneysUnassigned []string `json:"journeys_unassigned"`
}

// OnJourneyDeleted removes every booking of the journey, then the journey,
// and drops its ledger entry.
func (s CascadeService) OnJourneyDeleted(ctx context.Context, journeyID string) (JourneyDeletion, error) {
	res := JourneyDeletion{JourneyID: journeyID}
	err := s.Ledger.Atomically(ctx, []string{journeyID}, func(lt *ledger.Tx) error {
		return s.Store.Tx(ctx, func(q repositories.Queries) error {
			if _, err := q.GetJourney(ctx, journeyID, true); err != nil {
				return err
			}
			active, err := q.ListBookings(ctx, models.BookingFilter{JourneyID: journeyID, ActiveOnly: true})
			if err != nil {
				return err
			}
			seats := sumSeats(active)
			if err := lt.Release(journeyID, seats); err != nil {
				return err
			}
			n, err := q.DeleteBookings(ctx, models.BookingFilter{JourneyID: journeyID})
			if err != nil {
				return err
			}
			if err := q.DeleteJourney(ctx, journeyID); err != nil {
				return err
			}
			res.BookingsRemoved, res.SeatsReleased = n, seats
			return lt.Drop(journeyID)
		})
	})
	if err != nil {
		return JourneyDeletion{}, err
	}

	utils.LogEvent(ctx, s.log(), "cascade", "journey_deleted", "journey deleted",
		zap.String("journey_id", journeyID),
		zap.Int("bookings_removed", res.BookingsRemoved),
		zap.Int("seats_released", res.SeatsReleased),
	)
	s.events().Publish(ctx, events.TopicJourneyDeleted, events.JourneyDeletedPayload{
		JourneyID: journeyID, BookingsRemoved: res.BookingsRemoved, SeatsReleased: res.SeatsReleased,
	})
	return res, nil
}

// OnDriverUnassigned clears the journey's driver. Bookings are untouched.
func (s CascadeService) OnDriverUnassigned(ctx context.Context, journeyID string) error {
	var previous string
	err := s.Store.Tx(ctx, func(q repositories.Queries) error {
		j, err := q.GetJourney(ctx, journeyID, true)
		if err != nil {
			return err
		}
		if j.DriverID != nil {
			previous = *j.DriverID
		}
		return q.SetJourneyDriver(ctx, journeyID, nil)
	})
	if err != nil {
		return err
	}

	utils.LogEvent(ctx, s.log(), "cascade", "driver_unassigned", "driver unassigned",
		zap.String("journey_id", journeyID), zap.String("previous_driver_id", previous))
	s.events().Publish(ctx, events.TopicDriverUnassigned, events.DriverPayload{JourneyID: journeyID, DriverID: previous})
	return nil
}

// AssignDriver sets the journey's driver; the user must hold the driver role.
func (s CascadeService) AssignDriver(ctx context.Context, journeyID, driverID string) (models.Journey, error) {
	var updated models.Journey
	err := s.Store.Tx(ctx, func(q repositories.Queries) error {
		j, err := q.GetJourney(ctx, journeyID, true)
		if err != nil {
			return err
		}
		u, err := q.GetUserForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		if u.Role != domain.RoleDriver {
			return domain.ValidationError{Field: "driver_id", Msg: "user is not a driver", Err: domain.ErrNotADriver}
		}
		if err := q.SetJourneyDriver(ctx, journeyID, &u.ID); err != nil {
			return err
		}
		j.DriverID = &u.ID
		updated = j
		return nil
	})
	if err != nil {
		return models.Journey{}, err
	}

	utils.LogEvent(ctx, s.log(), "cascade", "driver_assigned", "driver assigned",
		zap.String("journey_id", journeyID), zap.String("driver_id", driverID))
	s.events().Publish(ctx, events.TopicDriverAssigned, events.DriverPayload{JourneyID: journeyID, DriverID: driverID})
	return updated, nil
}

// OnRoleChangedAwayFromDriver clears the user from every journey they drive.
func (s CascadeService) OnRoleChangedAwayFromDriver(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.Store.Tx(ctx, func(q repositories.Queries) error {
		if _, err := q.GetUserForUpdate(ctx, userID); err != nil {
			return err
		}
		var err error
		ids, err = dropDriverRole(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	utils.LogEvent(ctx, s.log(), "cascade", "driver_role_removed", "driver cleared from journeys",
		zap.String("user_id", userID), zap.Strings("journey_ids", ids))
	s.publishUnassigned(ctx, userID, ids)
	return ids, nil
}

// OnRoleChangedAwayFromTraveller deletes the user's active bookings and
// releases their seats. Cancelled history is kept.
func (s CascadeService) OnRoleChangedAwayFromTraveller(ctx context.Context, userID string) (UserCascade, error) {
	res := UserCascade{UserID: userID}
	err := s.withUserJourneys(ctx, userID, func(lt *ledger.Tx, q repositories.Queries, _ models.User, active []models.Booking) error {
		removed, seats, err := dropTravellerRole(ctx, lt, q, userID, active)
		res.BookingsRemoved, res.SeatsReleased = removed, seats
		return err
	})
	if err != nil {
		return UserCascade{}, err
	}
	utils.LogEvent(ctx, s.log(), "cascade", "traveller_role_removed", "traveller bookings removed",
		zap.String("user_id", userID), zap.Int("bookings_removed", res.BookingsRemoved), zap.Int("seats_released", res.SeatsReleased))
	return res, nil
}

// ChangeRole updates a user's role and runs the matching cascades in the
// same transaction.
func (s CascadeService) ChangeRole(ctx context.Context, userID, role string) (models.User, UserCascade, error) {
	newRole, err := domain.ParseRole(role)
	if err != nil {
		return models.User{}, UserCascade{}, err
	}

	res := UserCascade{UserID: userID}
	var updated models.User
	var oldRole domain.Role
	err = s.withUserJourneys(ctx, userID, func(lt *ledger.Tx, q repositories.Queries, u models.User, active []models.Booking) error {
		oldRole = u.Role
		updated = u
		if u.Role == newRole {
			return nil
		}
		if err := q.UpdateUserRole(ctx, userID, newRole); err != nil {
			return err
		}
		updated.Role = newRole

		switch u.Role {
		case domain.RoleDriver:
			ids, err := dropDriverRole(ctx, q, userID)
			if err != nil {
				return err
			}
			res.JourneysUnassigned = ids
		case domain.RoleTraveller:
			removed, seats, err := dropTravellerRole(ctx, lt, q, userID, active)
			if err != nil {
				return err
			}
			res.BookingsRemoved, res.SeatsReleased = removed, seats
		}
		return nil
	})
	if err != nil {
		return models.User{}, UserCascade{}, err
	}
	if oldRole == newRole {
		return updated, res, nil
	}

	utils.LogEvent(ctx, s.log(), "cascade", "role_changed", "user role changed",
		zap.String("user_id", userID),
		zap.String("from", oldRole.String()),
		zap.String("to", newRole.String()),
		zap.Int("bookings_removed", res.BookingsRemoved),
		zap.Strings("journeys_unassigned", res.JourneysUnassigned),
	)
	s.events().Publish(ctx, events.TopicUserRoleChanged, events.RoleChangedPayload{
		UserID: userID, From: oldRole.String(), To: newRole.String(),
		BookingsRemoved: res.BookingsRemoved, JourneysUnassigned: res.JourneysUnassigned,
	})
	s.publishUnassigned(ctx, userID, res.JourneysUnassigned)
	return updated, res, nil
}

// OnUserDeleted runs both role cascades regardless of the user's role,
// removes their cancelled history and then the user.
func (s CascadeService) OnUserDeleted(ctx context.Context, userID string) (UserCascade, error) {
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return UserCascade{}, err
	}

	res := UserCascade{UserID: userID}
	err := s.withUserJourneys(ctx, userID, func(lt *ledger.Tx, q repositories.Queries, _ models.User, active []models.Booking) error {
		removed, seats, err := dropTravellerRole(ctx, lt, q, userID, active)
		if err != nil {
			return err
		}
		history, err := q.DeleteBookings(ctx, models.BookingFilter{UserID: userID})
		if err != nil {
			return err
		}
		ids, err := dropDriverRole(ctx, q, userID)
		if err != nil {
			return err
		}
		res.BookingsRemoved, res.SeatsReleased, res.JourneysUnassigned = removed+history, seats, ids
		return q.DeleteUser(ctx, userID)
	})
	if err != nil {
		return UserCascade{}, err
	}

	utils.LogEvent(ctx, s.log(), "cascade", "user_deleted", "user deleted",
		zap.String("user_id", userID),
		zap.Int("bookings_removed", res.BookingsRemoved),
		zap.Int("seats_released", res.SeatsReleased),
		zap.Strings("journeys_unassigned", res.JourneysUnassigned),
	)
	s.publishUnassigned(ctx, userID, res.JourneysUnassigned)
	s.events().Publish(ctx, events.TopicUserDeleted, events.UserDeletedPayload{
		UserID: userID, BookingsRemoved: res.BookingsRemoved, JourneysUnassigned: res.JourneysUnassigned,
	})
	return res, nil
}

// withUserJourneys locks the ledger entries of every journey the user holds
// active bookings on, then runs fn in a store transaction with the user row
// locked and those bookings re-read under the locks. If a booking slipped in on an unlocked journey the
// whole attempt is rolled back and retried with the wider set.
func (s CascadeService) withUserJourneys(ctx context.Context, userID string, fn func(lt *ledger.Tx, q repositories.Queries, u models.User, active []models.Booking) error) error {
	current, err := s.Store.ListBookings(ctx, models.BookingFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return err
	}
	ids := journeyIDs(current)

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		var wider []string
		err = s.Ledger.Atomically(ctx, ids, func(lt *ledger.Tx) error {
			return s.Store.Tx(ctx, func(q repositories.Queries) error {
				// user row first: bookings for this user cannot be inserted until we commit
				u, err := q.GetUserForUpdate(ctx, userID)
				if err != nil {
					return err
				}
				active, err := q.ListBookings(ctx, models.BookingFilter{UserID: userID, ActiveOnly: true})
				if err != nil {
					return err
				}
				if !covers(ids, active) {
					wider = journeyIDs(active)
					return errJourneySetChanged
				}
				return fn(lt, q, u, active)
			})
		})
		switch {
		case errors.Is(err, errJourneySetChanged):
			ids = wider
		case errors.Is(err, domain.ErrJourneyNotFound):
			// a locked journey was deleted meanwhile; its bookings went with it
			current, err = s.Store.ListBookings(ctx, models.BookingFilter{UserID: userID, ActiveOnly: true})
			if err != nil {
				return err
			}
			ids = journeyIDs(current)
		default:
			return err
		}
	}
	s.log().Warn("user cascade gave up after repeated journey set changes", zap.String("user_id", userID))
	return domain.ConflictError{Resource: "user", Msg: "bookings changed concurrently, retry"}
}

func (s CascadeService) publishUnassigned(ctx context.Context, userID string, journeyIDs []string) {
	for _, id := range journeyIDs {
		s.events().Publish(ctx, events.TopicDriverUnassigned, events.DriverPayload{JourneyID: id, DriverID: userID})
	}
}

// dropDriverRole clears the user from every journey they drive. Runs inside
// the caller's store transaction.
func dropDriverRole(ctx context.Context, q repositories.Queries, userID string) ([]string, error) {
	return q.ClearDriverForUser(ctx, userID)
}

// dropTravellerRole gives back the seats of the user's active bookings journey
// by journey and deletes those bookings. Runs inside the caller's ledger block
// and store transaction.
func dropTravellerRole(ctx context.Context, lt *ledger.Tx, q repositories.Queries, userID string, active []models.Booking) (int, int, error) {
	perJourney := map[string]int{}
	for _, b := range active {
		perJourney[b.JourneyID] += b.Seats
	}
	total := 0
	for journeyID, seats := range perJourney {
		if err := lt.Release(journeyID, seats); err != nil {
			return 0, 0, err
		}
		total += seats
	}
	if len(active) == 0 {
		return 0, 0, nil
	}
	n, err := q.DeleteBookings(ctx, models.BookingFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return 0, 0, err
	}
	return n, total, nil
}

func journeyIDs(bookings []models.Booking) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, b := range bookings {
		if _, ok := seen[b.JourneyID]; ok {
			continue
		}
		seen[b.JourneyID] = struct{}{}
		out = append(out, b.JourneyID)
	}
	sort.Strings(out)
	return out
}

func covers(locked []string, bookings []models.Booking) bool {
	set := make(map[string]struct{}, len(locked))
	for _, id := range locked {
		set[id] = struct{}{}
	}
	for _, b := range bookings {
		if _, ok := set[b.JourneyID]; !ok {
			return false
		}
	}
	return true
}

func sumSeats(bookings []models.Booking) int {
	total := 0
	for _, b := range bookings {
		total += b.Seats
	}
	return total
}
