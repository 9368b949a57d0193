package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
)

type memState struct {
	cities   map[int64]models.City
	users    map[string]models.User
	journeys map[string]models.Journey
	bookings map[string]models.Booking
}

func (s *memState) clone() *memState {
	c := &memState{
		cities:   make(map[int64]models.City, len(s.cities)),
		users:    make(map[string]models.User, len(s.users)),
		journeys: make(map[string]models.Journey, len(s.journeys)),
		bookings: make(map[string]models.Booking, len(s.bookings)),
	}
	for k, v := range s.cities {
		c.cities[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.journeys {
		if v.DriverID != nil {
			id := *v.DriverID
			v.DriverID = &id
		}
		c.journeys[k] = v
	}
	for k, v := range s.bookings {
		if v.CancelledAt != nil {
			t := *v.CancelledAt
			v.CancelledAt = &t
		}
		c.bookings[k] = v
	}
	return c
}

// MemoryStore keeps everything in maps. Transactions work on a copy that
// replaces the live state on commit, so a failed transaction leaves no trace.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	st := &memState{
		cities:   map[int64]models.City{},
		users:    map[string]models.User{},
		journeys: map[string]models.Journey{},
		bookings: map[string]models.Booking{},
	}
	for _, c := range DefaultCities {
		st.cities[c.ID] = c
	}
	return &MemoryStore{state: st}
}

// Tx serializes writers; readers see the last committed state.
func (m *MemoryStore) Tx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(memQueries{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) read(fn func(q memQueries) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memQueries{st: m.state, readOnly: true})
}

func (m *MemoryStore) GetCity(ctx context.Context, id int64) (c models.City, err error) {
	err = m.read(func(q memQueries) error { c, err = q.GetCity(ctx, id); return err })
	return
}

func (m *MemoryStore) ListCities(ctx context.Context) (out []models.City, err error) {
	err = m.read(func(q memQueries) error { out, err = q.ListCities(ctx); return err })
	return
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (u models.User, err error) {
	err = m.read(func(q memQueries) error { u, err = q.GetUser(ctx, id); return err })
	return
}

func (m *MemoryStore) GetUserForUpdate(ctx context.Context, id string) (models.User, error) {
	return m.GetUser(ctx, id)
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (u models.User, err error) {
	err = m.read(func(q memQueries) error { u, err = q.GetUserByEmail(ctx, email); return err })
	return
}

func (m *MemoryStore) ListUsers(ctx context.Context, role domain.Role) (out []models.User, err error) {
	err = m.read(func(q memQueries) error { out, err = q.ListUsers(ctx, role); return err })
	return
}

func (m *MemoryStore) GetJourney(ctx context.Context, id string, forUpdate bool) (j models.Journey, err error) {
	err = m.read(func(q memQueries) error { j, err = q.GetJourney(ctx, id, forUpdate); return err })
	return
}

func (m *MemoryStore) ListJourneys(ctx context.Context, f models.JourneyFilter) (out []models.Journey, err error) {
	err = m.read(func(q memQueries) error { out, err = q.ListJourneys(ctx, f); return err })
	return
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (b models.Booking, err error) {
	err = m.read(func(q memQueries) error { b, err = q.GetBooking(ctx, id); return err })
	return
}

func (m *MemoryStore) FindActiveBooking(ctx context.Context, journeyID, userID string) (b models.Booking, ok bool, err error) {
	err = m.read(func(q memQueries) error { b, ok, err = q.FindActiveBooking(ctx, journeyID, userID); return err })
	return
}

func (m *MemoryStore) ListBookings(ctx context.Context, f models.BookingFilter) (out []models.Booking, err error) {
	err = m.read(func(q memQueries) error { out, err = q.ListBookings(ctx, f); return err })
	return
}

func (m *MemoryStore) ListPassengers(ctx context.Context, journeyID string) (out []models.PassengerPickup, err error) {
	err = m.read(func(q memQueries) error { out, err = q.ListPassengers(ctx, journeyID); return err })
	return
}

func (m *MemoryStore) ReservedSeats(ctx context.Context, journeyID string) (n int, err error) {
	err = m.read(func(q memQueries) error { n, err = q.ReservedSeats(ctx, journeyID); return err })
	return
}

// Writers outside a transaction run as a single-statement Tx.

func (m *MemoryStore) InsertUser(ctx context.Context, u models.User) error {
	return m.Tx(ctx, func(q Queries) error { return q.InsertUser(ctx, u) })
}

func (m *MemoryStore) UpdateUserRole(ctx context.Context, id string, role domain.Role) error {
	return m.Tx(ctx, func(q Queries) error { return q.UpdateUserRole(ctx, id, role) })
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	return m.Tx(ctx, func(q Queries) error { return q.DeleteUser(ctx, id) })
}

func (m *MemoryStore) InsertJourney(ctx context.Context, j models.Journey) error {
	return m.Tx(ctx, func(q Queries) error { return q.InsertJourney(ctx, j) })
}

func (m *MemoryStore) UpdateJourney(ctx context.Context, j models.Journey) error {
	return m.Tx(ctx, func(q Queries) error { return q.UpdateJourney(ctx, j) })
}

func (m *MemoryStore) DeleteJourney(ctx context.Context, id string) error {
	return m.Tx(ctx, func(q Queries) error { return q.DeleteJourney(ctx, id) })
}

func (m *MemoryStore) SetJourneyDriver(ctx context.Context, journeyID string, driverID *string) error {
	return m.Tx(ctx, func(q Queries) error { return q.SetJourneyDriver(ctx, journeyID, driverID) })
}

func (m *MemoryStore) ClearDriverForUser(ctx context.Context, userID string) (ids []string, err error) {
	err = m.Tx(ctx, func(q Queries) error { ids, err = q.ClearDriverForUser(ctx, userID); return err })
	return
}

func (m *MemoryStore) InsertBooking(ctx context.Context, b models.Booking) error {
	return m.Tx(ctx, func(q Queries) error { return q.InsertBooking(ctx, b) })
}

func (m *MemoryStore) UpdateBooking(ctx context.Context, b models.Booking) error {
	return m.Tx(ctx, func(q Queries) error { return q.UpdateBooking(ctx, b) })
}

func (m *MemoryStore) DeleteBookings(ctx context.Context, f models.BookingFilter) (n int, err error) {
	err = m.Tx(ctx, func(q Queries) error { n, err = q.DeleteBookings(ctx, f); return err })
	return
}

// memQueries operates on one memState; writes on a readOnly view are a bug.
type memQueries struct {
	st       *memState
	readOnly bool
}

func (q memQueries) guard() error {
	if q.readOnly {
		return domain.InternalError{Msg: "write outside memory transaction", Err: domain.ErrInvariantViolation}
	}
	return nil
}

func (q memQueries) GetCity(_ context.Context, id int64) (models.City, error) {
	c, ok := q.st.cities[id]
	if !ok {
		return c, cityNotFound()
	}
	return c, nil
}

func (q memQueries) ListCities(_ context.Context) ([]models.City, error) {
	out := make([]models.City, 0, len(q.st.cities))
	for _, c := range q.st.cities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q memQueries) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := q.st.users[id]
	if !ok {
		return u, userNotFound(id)
	}
	return u, nil
}

func (q memQueries) GetUserForUpdate(ctx context.Context, id string) (models.User, error) {
	return q.GetUser(ctx, id)
}

func (q memQueries) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	for _, u := range q.st.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, userNotFound(email)
}

func (q memQueries) ListUsers(_ context.Context, role domain.Role) ([]models.User, error) {
	out := []models.User{}
	for _, u := range q.st.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q memQueries) InsertUser(ctx context.Context, u models.User) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, err := q.GetUserByEmail(ctx, u.Email); err == nil {
		return domain.ConflictError{Resource: "user", Msg: u.Email, Err: domain.ErrEmailTaken}
	}
	q.st.users[u.ID] = u
	return nil
}

func (q memQueries) UpdateUserRole(_ context.Context, id string, role domain.Role) error {
	if err := q.guard(); err != nil {
		return err
	}
	u, ok := q.st.users[id]
	if !ok {
		return userNotFound(id)
	}
	u.Role = role
	q.st.users[id] = u
	return nil
}

func (q memQueries) DeleteUser(_ context.Context, id string) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.st.users[id]; !ok {
		return userNotFound(id)
	}
	delete(q.st.users, id)
	return nil
}

func (q memQueries) GetJourney(_ context.Context, id string, _ bool) (models.Journey, error) {
	j, ok := q.st.journeys[id]
	if !ok {
		return j, journeyNotFound(id)
	}
	return j, nil
}

func (q memQueries) ListJourneys(_ context.Context, f models.JourneyFilter) ([]models.Journey, error) {
	out := []models.Journey{}
	for _, j := range q.st.journeys {
		if f.DriverID != "" && (j.DriverID == nil || *j.DriverID != f.DriverID) {
			continue
		}
		if f.DepartingAfter != nil && !j.DepartureTime.After(*f.DepartingAfter) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].DepartureTime.Equal(out[b].DepartureTime) {
			return out[a].DepartureTime.Before(out[b].DepartureTime)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (q memQueries) InsertJourney(_ context.Context, j models.Journey) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.st.cities[j.OriginCityID]; !ok {
		return cityNotFound()
	}
	if _, ok := q.st.cities[j.DestinationCityID]; !ok {
		return cityNotFound()
	}
	q.st.journeys[j.ID] = j
	return nil
}

func (q memQueries) UpdateJourney(_ context.Context, j models.Journey) error {
	if err := q.guard(); err != nil {
		return err
	}
	cur, ok := q.st.journeys[j.ID]
	if !ok {
		return journeyNotFound(j.ID)
	}
	cur.OriginCityID = j.OriginCityID
	cur.DestinationCityID = j.DestinationCityID
	cur.DepartureTime = j.DepartureTime
	cur.TotalSeats = j.TotalSeats
	q.st.journeys[j.ID] = cur
	return nil
}

func (q memQueries) DeleteJourney(_ context.Context, id string) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.st.journeys[id]; !ok {
		return journeyNotFound(id)
	}
	for _, b := range q.st.bookings {
		if b.JourneyID == id {
			return domain.InternalError{Msg: "journey " + id + " still has bookings", Err: domain.ErrInvariantViolation}
		}
	}
	delete(q.st.journeys, id)
	return nil
}

func (q memQueries) SetJourneyDriver(_ context.Context, journeyID string, driverID *string) error {
	if err := q.guard(); err != nil {
		return err
	}
	j, ok := q.st.journeys[journeyID]
	if !ok {
		return journeyNotFound(journeyID)
	}
	if driverID == nil || *driverID == "" {
		j.DriverID = nil
	} else {
		id := *driverID
		j.DriverID = &id
	}
	q.st.journeys[journeyID] = j
	return nil
}

func (q memQueries) ClearDriverForUser(_ context.Context, userID string) ([]string, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}
	ids := []string{}
	for id, j := range q.st.journeys {
		if j.DriverID != nil && *j.DriverID == userID {
			j.DriverID = nil
			q.st.journeys[id] = j
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (q memQueries) GetBooking(_ context.Context, id string) (models.Booking, error) {
	b, ok := q.st.bookings[id]
	if !ok {
		return b, bookingNotFound(id)
	}
	return b, nil
}

func (q memQueries) FindActiveBooking(_ context.Context, journeyID, userID string) (models.Booking, bool, error) {
	for _, b := range q.st.bookings {
		if b.JourneyID == journeyID && b.UserID == userID && b.IsActive() {
			return b, true, nil
		}
	}
	return models.Booking{}, false, nil
}

func (q memQueries) InsertBooking(_ context.Context, b models.Booking) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.st.journeys[b.JourneyID]; !ok {
		return journeyNotFound(b.JourneyID)
	}
	q.st.bookings[b.ID] = b
	return nil
}

func (q memQueries) UpdateBooking(_ context.Context, b models.Booking) error {
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.st.bookings[b.ID]; !ok {
		return bookingNotFound(b.ID)
	}
	q.st.bookings[b.ID] = b
	return nil
}

func matchBooking(b models.Booking, f models.BookingFilter) bool {
	if f.JourneyID != "" && b.JourneyID != f.JourneyID {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.ActiveOnly && !b.IsActive() {
		return false
	}
	return true
}

func (q memQueries) ListBookings(_ context.Context, f models.BookingFilter) ([]models.Booking, error) {
	out := []models.Booking{}
	for _, b := range q.st.bookings {
		if matchBooking(b, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q memQueries) DeleteBookings(_ context.Context, f models.BookingFilter) (int, error) {
	if err := q.guard(); err != nil {
		return 0, err
	}
	if f == (models.BookingFilter{}) {
		return 0, domain.InternalError{Msg: "refusing to delete bookings without a filter", Err: domain.ErrInvariantViolation}
	}
	n := 0
	for id, b := range q.st.bookings {
		if matchBooking(b, f) {
			delete(q.st.bookings, id)
			n++
		}
	}
	return n, nil
}

func (q memQueries) ListPassengers(ctx context.Context, journeyID string) ([]models.PassengerPickup, error) {
	bookings, _ := q.ListBookings(ctx, models.BookingFilter{JourneyID: journeyID, ActiveOnly: true})
	out := make([]models.PassengerPickup, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, models.PassengerPickup{
			BookingID:     b.ID,
			PassengerName: q.st.users[b.UserID].Name,
			Seats:         b.Seats,
			PickupLat:     b.PickupLat,
			PickupLng:     b.PickupLng,
		})
	}
	return out, nil
}

func (q memQueries) ReservedSeats(_ context.Context, journeyID string) (int, error) {
	total := 0
	for _, b := range q.st.bookings {
		if b.JourneyID == journeyID && b.IsActive() {
			total += b.Seats
		}
	}
	return total, nil
}
