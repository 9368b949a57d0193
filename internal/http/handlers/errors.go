package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/http/middleware"
)

// ErrorResponse standardizes error payloads.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetRequestID(c),
	})
}

// RespondDomainError maps domain errors to HTTP responses. Internal errors
// are logged and answered with a generic message.
func (h *Handler) RespondDomainError(c *gin.Context, err error) {
	switch {
	case domain.IsInsufficientCapacity(err):
		respondError(c, http.StatusConflict, "insufficient_capacity", err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, validationCode(err), err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case domain.IsForbidden(err):
		respondError(c, http.StatusForbidden, "forbidden", err.Error())
	case domain.IsUnauthorized(err):
		respondError(c, http.StatusUnauthorized, "unauthorized", err.Error())
	case domain.IsConflict(err):
		code := "conflict"
		switch {
		case errors.Is(err, domain.ErrDuplicateBooking):
			code = "duplicate_booking"
		case errors.Is(err, domain.ErrEmailTaken):
			code = "email_taken"
		case errors.Is(err, domain.ErrBookingNotActive):
			code = "booking_not_active"
		}
		respondError(c, http.StatusConflict, code, err.Error())
	default:
		h.log().Error("request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrJourneyInPast):
		return "journey_in_past"
	case errors.Is(err, domain.ErrOutsidePickupRadius):
		return "outside_pickup_radius"
	case errors.Is(err, domain.ErrInvalidCoordinate):
		return "invalid_coordinate"
	case errors.Is(err, domain.ErrNotADriver):
		return "not_a_driver"
	}
	return "validation_error"
}
