package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
	"shuttle/internal/utils"
)

type JourneyService struct {
	Store   repositories.Store
	Ledger  *ledger.Ledger
	Cascade CascadeService
	Deps
}

type JourneyInput struct {
	OriginCityID      int64
	DestinationCityID int64
	DepartureTime     time.Time
	TotalSeats        int
}

// JourneyView adds city names and live availability to a journey.
type JourneyView struct {
	models.Journey
	OriginCity      string `json:"origin_city"`
	DestinationCity string `json:"destination_city"`
	AvailableSeats  int    `json:"available_seats"`
}

func (s JourneyService) ListCities(ctx context.Context) ([]models.City, error) {
	return s.Store.ListCities(ctx)
}

// ListUpcoming is the public timetable: journeys that have not departed.
func (s JourneyService) ListUpcoming(ctx context.Context) ([]JourneyView, error) {
	now := s.now()
	journeys, err := s.Store.ListJourneys(ctx, models.JourneyFilter{DepartingAfter: &now})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, journeys)
}

func (s JourneyService) GetJourney(ctx context.Context, id string) (JourneyView, error) {
	j, err := s.Store.GetJourney(ctx, id, false)
	if err != nil {
		return JourneyView{}, err
	}
	views, err := s.views(ctx, []models.Journey{j})
	if err != nil {
		return JourneyView{}, err
	}
	if len(views) == 0 {
		return JourneyView{}, domain.NotFoundError{Resource: "journey " + id, Err: domain.ErrJourneyNotFound}
	}
	return views[0], nil
}

func (s JourneyService) AdminListJourneys(ctx context.Context, rc domain.RequestContext) ([]JourneyView, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return nil, err
	}
	journeys, err := s.Store.ListJourneys(ctx, models.JourneyFilter{})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, journeys)
}

func (s JourneyService) CreateJourney(ctx context.Context, rc domain.RequestContext, in JourneyInput) (models.Journey, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return models.Journey{}, err
	}
	j := models.Journey{
		ID:                s.newID(),
		OriginCityID:      in.OriginCityID,
		DestinationCityID: in.DestinationCityID,
		DepartureTime:     in.DepartureTime.UTC(),
		TotalSeats:        in.TotalSeats,
		CreatedAt:         s.now(),
	}
	err := s.Store.Tx(ctx, func(q repositories.Queries) error {
		if err := validateJourney(ctx, q, j); err != nil {
			return err
		}
		return q.InsertJourney(ctx, j)
	})
	if err != nil {
		return models.Journey{}, err
	}
	utils.LogEvent(ctx, s.log(), "journey", "create", "journey created",
		zap.String("journey_id", j.ID), zap.Int("total_seats", j.TotalSeats), zap.Time("departure_time", j.DepartureTime))
	return j, nil
}

// UpdateJourney applies the non-nil fields. Lowering total seats below the
// reserved count is an admin override and is allowed, but logged.
func (s JourneyService) UpdateJourney(ctx context.Context, rc domain.RequestContext, id string, upd models.JourneyUpdate) (models.Journey, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return models.Journey{}, err
	}

	var updated models.Journey
	var reserved int
	err := s.Ledger.Atomically(ctx, []string{id}, func(lt *ledger.Tx) error {
		return s.Store.Tx(ctx, func(q repositories.Queries) error {
			j, err := q.GetJourney(ctx, id, true)
			if err != nil {
				return err
			}
			if upd.OriginCityID != nil {
				j.OriginCityID = *upd.OriginCityID
			}
			if upd.DestinationCityID != nil {
				j.DestinationCityID = *upd.DestinationCityID
			}
			if upd.DepartureTime != nil {
				j.DepartureTime = upd.DepartureTime.UTC()
			}
			if upd.TotalSeats != nil {
				j.TotalSeats = *upd.TotalSeats
			}
			if err := validateJourney(ctx, q, j); err != nil {
				return err
			}
			if err := q.UpdateJourney(ctx, j); err != nil {
				return err
			}
			if err := lt.SetTotal(id, j.TotalSeats); err != nil {
				return err
			}
			reserved = lt.Reserved(id)
			updated = j
			return nil
		})
	})
	if err != nil {
		return models.Journey{}, err
	}

	fields := []zap.Field{zap.String("journey_id", id), zap.Int("total_seats", updated.TotalSeats)}
	if reserved > updated.TotalSeats {
		s.log().Warn("journey capacity below reserved seats",
			zap.String("journey_id", id), zap.Int("total_seats", updated.TotalSeats), zap.Int("reserved", reserved))
		fields = append(fields, zap.Int("overbooked_by", reserved-updated.TotalSeats))
	}
	utils.LogEvent(ctx, s.log(), "journey", "update", "journey updated", fields...)
	return updated, nil
}

func (s JourneyService) DeleteJourney(ctx context.Context, rc domain.RequestContext, id string) (JourneyDeletion, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return JourneyDeletion{}, err
	}
	return s.Cascade.OnJourneyDeleted(ctx, id)
}

func (s JourneyService) AssignDriver(ctx context.Context, rc domain.RequestContext, journeyID, driverID string) (models.Journey, error) {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return models.Journey{}, err
	}
	return s.Cascade.AssignDriver(ctx, journeyID, driverID)
}

func (s JourneyService) UnassignDriver(ctx context.Context, rc domain.RequestContext, journeyID string) error {
	if err := rc.Require(domain.CapManageJourneys); err != nil {
		return err
	}
	return s.Cascade.OnDriverUnassigned(ctx, journeyID)
}

// DriverJourneys lists the journeys assigned to the calling driver.
func (s JourneyService) DriverJourneys(ctx context.Context, rc domain.RequestContext) ([]JourneyView, error) {
	if err := rc.Require(domain.CapViewAssigned); err != nil {
		return nil, err
	}
	journeys, err := s.Store.ListJourneys(ctx, models.JourneyFilter{DriverID: rc.UserID})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, journeys)
}

// Passengers returns pickup points for a journey. Drivers only see journeys
// assigned to them.
func (s JourneyService) Passengers(ctx context.Context, rc domain.RequestContext, journeyID string) ([]models.PassengerPickup, error) {
	if err := rc.Require(domain.CapViewPickups); err != nil {
		return nil, err
	}
	j, err := s.Store.GetJourney(ctx, journeyID, false)
	if err != nil {
		return nil, err
	}
	if !rc.Role.Can(domain.CapManageJourneys) && (j.DriverID == nil || *j.DriverID != rc.UserID) {
		return nil, domain.ForbiddenError{Msg: "journey is not assigned to you"}
	}
	return s.Store.ListPassengers(ctx, journeyID)
}

func validateJourney(ctx context.Context, q repositories.Queries, j models.Journey) error {
	if j.TotalSeats < 1 {
		return domain.ValidationError{Field: "total_seats", Msg: "must be at least 1", Err: domain.ErrInvalidSeats}
	}
	if j.DepartureTime.IsZero() {
		return domain.ValidationError{Field: "departure_time", Msg: "departure time is required"}
	}
	if j.OriginCityID == j.DestinationCityID {
		return domain.ValidationError{Field: "destination_city_id", Msg: "origin and destination must differ"}
	}
	for field, id := range map[string]int64{"origin_city_id": j.OriginCityID, "destination_city_id": j.DestinationCityID} {
		_, err := q.GetCity(ctx, id)
		if domain.IsNotFound(err) {
			return domain.ValidationError{Field: field, Msg: "unknown city", Err: domain.ErrCityNotFound}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s JourneyService) views(ctx context.Context, journeys []models.Journey) ([]JourneyView, error) {
	cities, err := cityNames(ctx, s.Store)
	if err != nil {
		return nil, err
	}
	out := make([]JourneyView, 0, len(journeys))
	for _, j := range journeys {
		available, err := s.Ledger.Available(ctx, j.ID)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, JourneyView{
			Journey:         j,
			OriginCity:      cities[j.OriginCityID],
			DestinationCity: cities[j.DestinationCityID],
			AvailableSeats:  available,
		})
	}
	return out, nil
}
