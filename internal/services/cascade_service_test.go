package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/events"
)

func TestJourneyDeletionRemovesBookingsAndEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	a := f.user(t, domain.RoleTraveller)
	b := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 5)
	keep := f.journey(t, 5)

	f.book(t, a, jid, 2)
	cancelled := f.book(t, b, jid, 1)
	if _, err := f.bookings.CancelBooking(ctx, b, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.book(t, b, jid, 1)
	f.book(t, a, keep, 3)

	res, err := f.journeys.DeleteJourney(ctx, admin, jid)
	if err != nil {
		t.Fatalf("delete journey: %v", err)
	}
	if res.BookingsRemoved != 3 || res.SeatsReleased != 3 {
		t.Fatalf("unexpected deletion result: %+v", res)
	}

	left, err := f.store.ListBookings(ctx, models.BookingFilter{JourneyID: jid})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected no bookings left, got %d", len(left))
	}
	if _, err := f.ledger.Available(ctx, jid); !errors.Is(err, domain.ErrJourneyNotFound) {
		t.Fatalf("expected ledger entry gone, got %v", err)
	}
	if got := f.available(t, keep); got != 2 {
		t.Fatalf("other journey must be untouched, available=%d", got)
	}

	if _, err := f.journeys.DeleteJourney(ctx, admin, jid); !domain.IsNotFound(err) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestDriverUnassignKeepsBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	driver := f.user(t, domain.RoleDriver)
	traveller := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 3)
	f.book(t, traveller, jid, 2)

	j, err := f.journeys.AssignDriver(ctx, admin, jid, driver.UserID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !j.HasDriver() || *j.DriverID != driver.UserID {
		t.Fatalf("driver not assigned: %+v", j)
	}
	if err := f.journeys.UnassignDriver(ctx, admin, jid); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	stored, err := f.store.GetJourney(ctx, jid, false)
	if err != nil {
		t.Fatalf("get journey: %v", err)
	}
	if stored.DriverID != nil {
		t.Fatalf("driver still set: %v", *stored.DriverID)
	}
	if got := f.available(t, jid); got != 1 {
		t.Fatalf("bookings must be untouched, available=%d", got)
	}
}

func TestAssignDriverRequiresDriverRole(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, domain.RoleAdmin)
	traveller := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 3)

	_, err := f.journeys.AssignDriver(context.Background(), admin, jid, traveller.UserID)
	if !errors.Is(err, domain.ErrNotADriver) {
		t.Fatalf("expected not a driver, got %v", err)
	}
	_, err = f.journeys.AssignDriver(context.Background(), admin, jid, "ghost")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestRoleChangeAwayFromDriverClearsJourneys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	driver := f.user(t, domain.RoleDriver)
	j1 := f.journey(t, 3)
	j2 := f.journey(t, 3)
	for _, jid := range []string{j1, j2} {
		if _, err := f.journeys.AssignDriver(ctx, admin, jid, driver.UserID); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}

	u, res, err := f.users.ChangeRole(ctx, admin, driver.UserID, "traveller")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if u.Role != domain.RoleTraveller {
		t.Fatalf("role not changed: %s", u.Role)
	}
	if len(res.JourneysUnassigned) != 2 {
		t.Fatalf("expected 2 journeys unassigned, got %v", res.JourneysUnassigned)
	}
	assigned, err := f.store.ListJourneys(ctx, models.JourneyFilter{DriverID: driver.UserID})
	if err != nil {
		t.Fatalf("list journeys: %v", err)
	}
	if len(assigned) != 0 {
		t.Fatalf("journeys still reference the former driver: %d", len(assigned))
	}
	unassigned := 0
	for _, topic := range f.events.topics() {
		if topic == events.TopicDriverUnassigned {
			unassigned++
		}
	}
	if unassigned != 2 {
		t.Fatalf("expected 2 driver unassigned events, got %d", unassigned)
	}
}

func TestRoleChangeAwayFromTravellerReleasesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	rc := f.user(t, domain.RoleTraveller)
	j1 := f.journey(t, 4)
	j2 := f.journey(t, 4)
	f.book(t, rc, j1, 2)
	old := f.book(t, rc, j2, 1)
	if _, err := f.bookings.CancelBooking(ctx, rc, old.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.book(t, rc, j2, 3)

	_, res, err := f.users.ChangeRole(ctx, admin, rc.UserID, "driver")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if res.BookingsRemoved != 2 || res.SeatsReleased != 5 {
		t.Fatalf("unexpected cascade result: %+v", res)
	}
	if f.available(t, j1) != 4 || f.available(t, j2) != 4 {
		t.Fatalf("seats not released: j1=%d j2=%d", f.available(t, j1), f.available(t, j2))
	}
	history, err := f.store.ListBookings(ctx, models.BookingFilter{UserID: rc.UserID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.BookingCancelled {
		t.Fatalf("cancelled history should remain, got %+v", history)
	}
	f.assertConsistent(t, j1)
	f.assertConsistent(t, j2)
}

func TestBookingAfterRoleChangeAwayFromTravellerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	rc := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 2)

	if _, _, err := f.users.ChangeRole(ctx, admin, rc.UserID, "driver"); err != nil {
		t.Fatalf("change role: %v", err)
	}
	// rc still carries the traveller role it was issued with
	_, err := f.bookings.CreateBooking(ctx, rc, CreateBookingInput{JourneyID: jid, Seats: 1, Pickup: jakartaPoint})
	if !domain.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	active, err := f.store.ListBookings(ctx, models.BookingFilter{UserID: rc.UserID, ActiveOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("former traveller holds %d active bookings", len(active))
	}
	if got := f.available(t, jid); got != 2 {
		t.Fatalf("availability changed: %d", got)
	}
	f.assertConsistent(t, jid)
}

func TestOnRoleChangedAwayFromDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	driver := f.user(t, domain.RoleDriver)
	other := f.user(t, domain.RoleDriver)
	j1 := f.journey(t, 3)
	j2 := f.journey(t, 3)
	if _, err := f.journeys.AssignDriver(ctx, admin, j1, driver.UserID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.journeys.AssignDriver(ctx, admin, j2, other.UserID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	before := len(f.events.topics())

	ids, err := f.cascade.OnRoleChangedAwayFromDriver(ctx, driver.UserID)
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if len(ids) != 1 || ids[0] != j1 {
		t.Fatalf("expected only %s cleared, got %v", j1, ids)
	}
	stored, err := f.store.GetJourney(ctx, j2, false)
	if err != nil {
		t.Fatalf("get journey: %v", err)
	}
	if !stored.HasDriver() || *stored.DriverID != other.UserID {
		t.Fatalf("other driver's journey touched: %+v", stored)
	}

	topics := f.events.topics()[before:]
	if len(topics) != 1 || topics[0] != events.TopicDriverUnassigned {
		t.Fatalf("expected one driver unassigned event, got %v", topics)
	}

	if _, err := f.cascade.OnRoleChangedAwayFromDriver(ctx, "ghost"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestOnRoleChangedAwayFromTraveller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rc := f.user(t, domain.RoleTraveller)
	bystander := f.user(t, domain.RoleTraveller)
	j1 := f.journey(t, 4)
	j2 := f.journey(t, 4)
	f.book(t, rc, j1, 2)
	f.book(t, rc, j2, 1)
	f.book(t, bystander, j1, 1)

	res, err := f.cascade.OnRoleChangedAwayFromTraveller(ctx, rc.UserID)
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if res.BookingsRemoved != 2 || res.SeatsReleased != 3 {
		t.Fatalf("unexpected cascade result: %+v", res)
	}
	if f.available(t, j1) != 3 || f.available(t, j2) != 4 {
		t.Fatalf("seats not released: j1=%d j2=%d", f.available(t, j1), f.available(t, j2))
	}
	f.assertConsistent(t, j1)
	f.assertConsistent(t, j2)

	// nothing left to release
	res, err = f.cascade.OnRoleChangedAwayFromTraveller(ctx, rc.UserID)
	if err != nil || res.BookingsRemoved != 0 {
		t.Fatalf("second run should be a no-op: %+v %v", res, err)
	}
}

func TestChangeRoleSameRoleIsNoop(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, domain.RoleAdmin)
	rc := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 3)
	f.book(t, rc, jid, 1)
	before := len(f.events.topics())

	_, res, err := f.users.ChangeRole(context.Background(), admin, rc.UserID, "Traveller")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if res.BookingsRemoved != 0 || f.available(t, jid) != 2 {
		t.Fatalf("same-role change must not cascade: %+v", res)
	}
	if len(f.events.topics()) != before {
		t.Fatalf("same-role change must not publish")
	}

	if _, _, err := f.users.ChangeRole(context.Background(), admin, rc.UserID, "pilot"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
}

func TestUserDeletionCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	rc := f.user(t, domain.RoleTraveller)
	j1 := f.journey(t, 3)
	j2 := f.journey(t, 3)
	f.book(t, rc, j1, 2)
	f.book(t, rc, j2, 1)

	res, err := f.users.DeleteUser(ctx, admin, rc.UserID)
	if err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if res.BookingsRemoved != 2 || res.SeatsReleased != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.available(t, j1) != 3 || f.available(t, j2) != 3 {
		t.Fatalf("seats not released")
	}
	if _, err := f.store.GetUser(ctx, rc.UserID); !domain.IsNotFound(err) {
		t.Fatalf("user should be gone, got %v", err)
	}

	topics := f.events.topics()
	if topics[len(topics)-1] != events.TopicUserDeleted {
		t.Fatalf("expected user.deleted last, got %v", topics)
	}

	if _, err := f.users.DeleteUser(ctx, admin, admin.UserID); !domain.IsConflict(err) {
		t.Fatalf("self delete should conflict, got %v", err)
	}
	if _, err := f.users.DeleteUser(ctx, admin, rc.UserID); !domain.IsNotFound(err) {
		t.Fatalf("deleting twice should be not found, got %v", err)
	}
}

func TestDeleteDriverClearsAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	driver := f.user(t, domain.RoleDriver)
	traveller := f.user(t, domain.RoleTraveller)
	jid := f.journey(t, 3)
	if _, err := f.journeys.AssignDriver(ctx, admin, jid, driver.UserID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.users.DeleteDriver(ctx, admin, traveller.UserID); !errors.Is(err, domain.ErrNotADriver) {
		t.Fatalf("expected not a driver, got %v", err)
	}
	res, err := f.users.DeleteDriver(ctx, admin, driver.UserID)
	if err != nil {
		t.Fatalf("delete driver: %v", err)
	}
	if len(res.JourneysUnassigned) != 1 || res.JourneysUnassigned[0] != jid {
		t.Fatalf("unexpected unassigned journeys: %v", res.JourneysUnassigned)
	}
}

func TestUserCascadeRacesBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, domain.RoleAdmin)
	rc := f.user(t, domain.RoleTraveller)

	journeys := make([]string, 6)
	for i := range journeys {
		journeys[i] = f.journey(t, 2)
	}
	f.book(t, rc, journeys[0], 1)

	var wg sync.WaitGroup
	for _, jid := range journeys[1:] {
		wg.Add(1)
		go func(jid string) {
			defer wg.Done()
			// either lands before the delete (and is cascaded) or fails on the missing user
			_, _ = f.bookings.CreateBooking(ctx, rc, CreateBookingInput{JourneyID: jid, Seats: 1, Pickup: jakartaPoint})
		}(jid)
	}
	wg.Add(1)
	var delErr error
	go func() {
		defer wg.Done()
		_, delErr = f.users.DeleteUser(ctx, admin, rc.UserID)
	}()
	wg.Wait()

	if delErr != nil && !domain.IsConflict(delErr) {
		t.Fatalf("unexpected delete error: %v", delErr)
	}
	if delErr != nil {
		return
	}
	left, err := f.store.ListBookings(ctx, models.BookingFilter{UserID: rc.UserID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("bookings survived user deletion: %+v", left)
	}
	for _, jid := range journeys {
		f.assertConsistent(t, jid)
	}
}
