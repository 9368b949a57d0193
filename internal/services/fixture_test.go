package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"shuttle/internal/clock"
	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
)

var (
	testNow      = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	jakartaPoint = models.Coordinate{Lat: -6.21, Lng: 106.85}
)

type published struct {
	Topic   string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, published{Topic: topic, Payload: payload})
	r.mu.Unlock()
}

func (r *recordingPublisher) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

type fixture struct {
	store    *repositories.MemoryStore
	ledger   *ledger.Ledger
	clock    *clock.Fake
	events   *recordingPublisher
	deps     Deps
	bookings BookingService
	cascade  CascadeService
	journeys JourneyService
	users    UserService
	auth     AuthService
	seq      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  repositories.NewMemoryStore(),
		clock:  clock.NewFake(testNow),
		events: &recordingPublisher{},
	}
	f.ledger = ledger.New(repositories.CapacitySource{Store: f.store}, zap.NewNop())
	f.deps = Deps{
		Clock:  f.clock,
		Events: f.events,
		Log:    zap.NewNop(),
		NewID: func() string {
			return fmt.Sprintf("id-%04d", atomic.AddInt64(&f.seq, 1))
		},
	}
	f.cascade = CascadeService{Store: f.store, Ledger: f.ledger, Deps: f.deps}
	f.bookings = BookingService{Store: f.store, Ledger: f.ledger, Deps: f.deps}
	f.journeys = JourneyService{Store: f.store, Ledger: f.ledger, Cascade: f.cascade, Deps: f.deps}
	f.users = UserService{Store: f.store, Cascade: f.cascade}
	f.auth = AuthService{Store: f.store, Secret: []byte("test-secret"), TokenTTL: time.Hour, Deps: f.deps}
	return f
}

func (f *fixture) user(t *testing.T, role domain.Role) domain.RequestContext {
	t.Helper()
	id := f.deps.newID()
	u := models.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "User " + id,
		Role:      role,
		CreatedAt: testNow,
	}
	if err := f.store.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return domain.RequestContext{UserID: id, Role: role}
}

// journey creates a Jakarta -> Bandung journey departing in 24h.
func (f *fixture) journey(t *testing.T, seats int) string {
	t.Helper()
	j := models.Journey{
		ID:                f.deps.newID(),
		OriginCityID:      1,
		DestinationCityID: 2,
		DepartureTime:     testNow.Add(24 * time.Hour),
		TotalSeats:        seats,
		CreatedAt:         testNow,
	}
	if err := f.store.InsertJourney(context.Background(), j); err != nil {
		t.Fatalf("insert journey: %v", err)
	}
	return j.ID
}

func (f *fixture) book(t *testing.T, rc domain.RequestContext, journeyID string, seats int) models.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), rc, CreateBookingInput{JourneyID: journeyID, Seats: seats, Pickup: jakartaPoint})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (f *fixture) available(t *testing.T, journeyID string) int {
	t.Helper()
	n, err := f.ledger.Available(context.Background(), journeyID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return n
}

// assertConsistent checks the ledger against the active bookings in the store.
func (f *fixture) assertConsistent(t *testing.T, journeyID string) {
	t.Helper()
	ctx := context.Background()
	fromStore, err := f.store.ReservedSeats(ctx, journeyID)
	if err != nil {
		t.Fatalf("reserved seats: %v", err)
	}
	fromLedger, err := f.ledger.CurrentReserved(ctx, journeyID)
	if err != nil {
		t.Fatalf("ledger reserved: %v", err)
	}
	if fromStore != fromLedger {
		t.Fatalf("ledger drifted: ledger=%d store=%d", fromLedger, fromStore)
	}
}
