package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/services"
)

type createBookingRequest struct {
	JourneyID string   `json:"journey_id" binding:"required"`
	Seats     int      `json:"seats"`
	PickupLat *float64 `json:"pickup_lat" binding:"required"`
	PickupLng *float64 `json:"pickup_lng" binding:"required"`
}

type adminBookingRequest struct {
	Seats     *int     `json:"seats"`
	PickupLat *float64 `json:"pickup_lat"`
	PickupLng *float64 `json:"pickup_lng"`
}

// POST /api/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	b, err := h.Bookings.CreateBooking(c.Request.Context(), caller(c), services.CreateBookingInput{
		JourneyID: req.JourneyID,
		Seats:     req.Seats,
		Pickup:    models.Coordinate{Lat: *req.PickupLat, Lng: *req.PickupLng},
	})
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": b})
}

// GET /api/bookings
func (h *Handler) ListMyBookings(c *gin.Context) {
	bookings, err := h.Bookings.ListMyBookings(c.Request.Context(), caller(c))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, bookings)
}

// GET /api/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.Bookings.GetBooking(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, b)
}

// DELETE /api/bookings/:id
func (h *Handler) CancelBooking(c *gin.Context) {
	b, err := h.Bookings.CancelBooking(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, b)
}

// GET /api/bookings/:id/e-ticket
func (h *Handler) BookingETicket(c *gin.Context) {
	pdf, filename, err := h.Docs.GenerateETicket(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// GET /api/admin/bookings?journey_id=&user_id=&active=true
func (h *Handler) AdminListBookings(c *gin.Context) {
	f := models.BookingFilter{
		JourneyID: c.Query("journey_id"),
		UserID:    c.Query("user_id"),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.RespondDomainError(c, domain.ValidationError{Field: "active", Msg: "must be true or false"})
			return
		}
		f.ActiveOnly = active
	}
	bookings, err := h.Bookings.ListAllBookings(c.Request.Context(), caller(c), f)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, bookings)
}

// PUT /api/admin/bookings/:id
func (h *Handler) AdminUpdateBooking(c *gin.Context) {
	var req adminBookingRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	upd := models.BookingUpdate{Seats: req.Seats}
	switch {
	case req.PickupLat != nil && req.PickupLng != nil:
		upd.Pickup = &models.Coordinate{Lat: *req.PickupLat, Lng: *req.PickupLng}
	case req.PickupLat != nil || req.PickupLng != nil:
		h.RespondDomainError(c, domain.ValidationError{Field: "pickup", Msg: "pickup_lat and pickup_lng must be sent together"})
		return
	}
	b, err := h.Bookings.AdminUpdateBooking(c.Request.Context(), caller(c), c.Param("id"), upd)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, b)
}
