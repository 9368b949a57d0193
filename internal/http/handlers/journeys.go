package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/services"
	"shuttle/internal/utils"
)

type journeyRequest struct {
	OriginCityID      *int64  `json:"origin_city_id"`
	DestinationCityID *int64  `json:"destination_city_id"`
	DepartureTime     *string `json:"departure_time"`
	TotalSeats        *int    `json:"total_seats"`
}

func (r journeyRequest) departure() (*time.Time, error) {
	if r.DepartureTime == nil {
		return nil, nil
	}
	t, err := utils.ParseTimestamp(*r.DepartureTime)
	if err != nil {
		return nil, domain.ValidationError{Field: "departure_time", Msg: "use RFC3339 or YYYY-MM-DD HH:MM:SS"}
	}
	return &t, nil
}

// GET /api/cities
func (h *Handler) ListCities(c *gin.Context) {
	cities, err := h.Journeys.ListCities(c.Request.Context())
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, cities)
}

// GET /api/journeys
func (h *Handler) ListJourneys(c *gin.Context) {
	journeys, err := h.Journeys.ListUpcoming(c.Request.Context())
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, journeys)
}

// GET /api/journeys/:id
func (h *Handler) GetJourney(c *gin.Context) {
	j, err := h.Journeys.GetJourney(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, j)
}

// GET /api/admin/journeys
func (h *Handler) AdminListJourneys(c *gin.Context) {
	journeys, err := h.Journeys.AdminListJourneys(c.Request.Context(), caller(c))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, journeys)
}

// POST /api/admin/journeys
func (h *Handler) CreateJourney(c *gin.Context) {
	var req journeyRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	dep, err := req.departure()
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	in := services.JourneyInput{}
	if req.OriginCityID != nil {
		in.OriginCityID = *req.OriginCityID
	}
	if req.DestinationCityID != nil {
		in.DestinationCityID = *req.DestinationCityID
	}
	if dep != nil {
		in.DepartureTime = *dep
	}
	if req.TotalSeats != nil {
		in.TotalSeats = *req.TotalSeats
	}

	j, err := h.Journeys.CreateJourney(c.Request.Context(), caller(c), in)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": j})
}

// PUT /api/admin/journeys/:id
func (h *Handler) UpdateJourney(c *gin.Context) {
	var req journeyRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	dep, err := req.departure()
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	upd := models.JourneyUpdate{
		OriginCityID:      req.OriginCityID,
		DestinationCityID: req.DestinationCityID,
		DepartureTime:     dep,
		TotalSeats:        req.TotalSeats,
	}
	j, err := h.Journeys.UpdateJourney(c.Request.Context(), caller(c), c.Param("id"), upd)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, j)
}

// DELETE /api/admin/journeys/:id
func (h *Handler) DeleteJourney(c *gin.Context) {
	res, err := h.Journeys.DeleteJourney(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, res)
}

// GET /api/admin/journeys/:id/passengers and /api/driver/journeys/:id/passengers
func (h *Handler) JourneyPassengers(c *gin.Context) {
	pickups, err := h.Journeys.Passengers(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, pickups)
}
