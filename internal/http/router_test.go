package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shuttle/internal/clock"
	intconfig "shuttle/internal/config"
	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	h "shuttle/internal/http/handlers"
	"shuttle/internal/ledger"
	"shuttle/internal/repositories"
	"shuttle/internal/services"
)

var now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	engine *gin.Engine
	store  *repositories.MemoryStore
	hd     *h.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryStore()
	log := zap.NewNop()
	led := ledger.New(repositories.CapacitySource{Store: store}, log)
	deps := services.Deps{Clock: clock.NewFake(now), Log: log}
	cascade := services.CascadeService{Store: store, Ledger: led, Deps: deps}
	hd := &h.Handler{
		Auth:     services.AuthService{Store: store, Secret: []byte("router-test"), TokenTTL: time.Hour, Deps: deps},
		Bookings: services.BookingService{Store: store, Ledger: led, Deps: deps},
		Journeys: services.JourneyService{Store: store, Ledger: led, Cascade: cascade, Deps: deps},
		Users:    services.UserService{Store: store, Cascade: cascade},
		Docs:     services.DocsService{Store: store, Deps: deps},
		Reports:  services.ReportsService{Store: store, Ledger: led, Deps: deps},
		Log:      log,
	}
	if err := hd.Auth.EnsureAdmin(context.Background(), "admin@example.com", "admin123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	return &testServer{engine: NewRouter(intconfig.Env{}, hd, log), store: store, hd: hd}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": email, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp struct {
		Data services.AuthResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Data.Token
}

func (s *testServer) register(t *testing.T, email string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": email, "name": "Traveller", "password": "secret1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, rec.Code, rec.Body.String())
	}
	return s.login(t, email, "secret1")
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp h.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	if resp.RequestID == "" {
		t.Fatalf("error response without request_id: %s", rec.Body.String())
	}
	return resp.Code
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin@example.com", "admin123")
	alice := s.register(t, "alice@example.com")
	bob := s.register(t, "bob@example.com")

	rec := s.do(t, http.MethodPost, "/api/admin/journeys", admin, gin.H{
		"origin_city_id": 1, "destination_city_id": 2,
		"departure_time": now.Add(24 * time.Hour).Format(time.RFC3339), "total_seats": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create journey: %d %s", rec.Code, rec.Body.String())
	}
	journey := decodeData[models.Journey](t, rec)

	booking := gin.H{"journey_id": journey.ID, "seats": 2, "pickup_lat": -6.21, "pickup_lng": 106.85}
	rec = s.do(t, http.MethodPost, "/api/bookings", alice, booking)
	if rec.Code != http.StatusCreated {
		t.Fatalf("alice booking: %d %s", rec.Code, rec.Body.String())
	}
	aliceBooking := decodeData[models.Booking](t, rec)

	rec = s.do(t, http.MethodPost, "/api/bookings", bob, gin.H{"journey_id": journey.ID, "seats": 1, "pickup_lat": -6.21, "pickup_lng": 106.85})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "insufficient_capacity" {
		t.Fatalf("expected capacity conflict, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/bookings", alice, booking)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "duplicate_booking" {
		t.Fatalf("expected duplicate booking, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/journeys/"+journey.ID, "", nil)
	if got := decodeData[services.JourneyView](t, rec); got.AvailableSeats != 0 {
		t.Fatalf("expected 0 available, got %d", got.AvailableSeats)
	}

	rec = s.do(t, http.MethodDelete, "/api/bookings/"+aliceBooking.ID, bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden cancel, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodDelete, "/api/bookings/"+aliceBooking.ID, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/bookings", bob, gin.H{"journey_id": journey.ID, "seats": 1, "pickup_lat": -6.21, "pickup_lng": 106.85})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bob retry: %d %s", rec.Code, rec.Body.String())
	}
	bobBooking := decodeData[models.Booking](t, rec)

	rec = s.do(t, http.MethodGet, "/api/bookings/"+bobBooking.ID+"/e-ticket", bob, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("e-ticket: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "ETICKET_") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	rec = s.do(t, http.MethodGet, "/api/admin/reports/occupancy?from=2026-03-10%2000:00:00", admin, nil)
	if rows := decodeData[[]services.JourneyOccupancy](t, rec); len(rows) != 1 || rows[0].ReservedSeats != 1 || !rows[0].InSync {
		t.Fatalf("unexpected occupancy: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/bookings", bob, nil)
	if mine := decodeData[[]services.BookingView](t, rec); len(mine) != 1 {
		t.Fatalf("expected 1 booking for bob, got %d", len(mine))
	}
}

func TestPickupOutsideRadiusIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin@example.com", "admin123")
	traveller := s.register(t, "t@example.com")

	rec := s.do(t, http.MethodPost, "/api/admin/journeys", admin, gin.H{
		"origin_city_id": 1, "destination_city_id": 2,
		"departure_time": "2026-03-12 07:30:00", "total_seats": 4,
	})
	journey := decodeData[models.Journey](t, rec)

	rec = s.do(t, http.MethodPost, "/api/bookings", traveller, gin.H{"journey_id": journey.ID, "seats": 1, "pickup_lat": 0.0, "pickup_lng": 0.0})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "outside_pickup_radius" {
		t.Fatalf("expected outside radius, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/bookings", traveller, gin.H{"journey_id": journey.ID, "seats": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing pickup should be rejected, got %d", rec.Code)
	}
}

func TestAuthAndCapabilityGates(t *testing.T) {
	s := newTestServer(t)
	traveller := s.register(t, "t@example.com")

	rec := s.do(t, http.MethodPost, "/api/bookings", "", gin.H{"journey_id": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/bookings", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/admin/users", traveller, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for traveller on admin route, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/driver/journeys", traveller, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for traveller on driver route, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/auth/me", traveller, nil)
	if me := decodeData[domain.RequestContext](t, rec); me.Role != domain.RoleTraveller {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestDriverRoutesAndRoleChange(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin@example.com", "admin123")

	rec := s.do(t, http.MethodPost, "/api/admin/drivers", admin, gin.H{"email": "d@example.com", "name": "Driver", "password": "secret1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create driver: %d %s", rec.Code, rec.Body.String())
	}
	driver := decodeData[models.User](t, rec)
	driverToken := s.login(t, "d@example.com", "secret1")

	rec = s.do(t, http.MethodPost, "/api/admin/journeys", admin, gin.H{
		"origin_city_id": 2, "destination_city_id": 1,
		"departure_time": now.Add(5 * time.Hour).Format(time.RFC3339), "total_seats": 3,
	})
	journey := decodeData[models.Journey](t, rec)

	rec = s.do(t, http.MethodPost, "/api/admin/journeys/"+journey.ID+"/assign-driver", admin, gin.H{"driver_id": driver.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign driver: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/driver/journeys", driverToken, nil)
	if got := decodeData[[]services.JourneyView](t, rec); len(got) != 1 {
		t.Fatalf("expected 1 assigned journey, got %d", len(got))
	}
	rec = s.do(t, http.MethodGet, "/api/driver/journeys/"+journey.ID+"/passengers", driverToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("passengers: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, "/api/admin/users/"+driver.ID+"/role", admin, gin.H{"role": "traveller"})
	if rec.Code != http.StatusOK {
		t.Fatalf("change role: %d %s", rec.Code, rec.Body.String())
	}

	// the old token now resolves to a traveller
	rec = s.do(t, http.MethodGet, "/api/driver/journeys", driverToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden after role change, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/journeys/"+journey.ID, "", nil)
	if got := decodeData[services.JourneyView](t, rec); got.DriverID != nil {
		t.Fatalf("driver should be cleared, got %v", *got.DriverID)
	}

	rec = s.do(t, http.MethodDelete, "/api/admin/journeys/"+journey.ID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete journey: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/journeys/"+journey.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/nowhere", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get("X-Request-ID"))
	}

	rec = s.do(t, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
}
