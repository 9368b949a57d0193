package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shuttle/internal/domain"
	"shuttle/internal/http/middleware"
	"shuttle/internal/services"
)

// Handler groups the HTTP endpoints over the services.
type Handler struct {
	Auth     services.AuthService
	Bookings services.BookingService
	Journeys services.JourneyService
	Users    services.UserService
	Docs     services.DocsService
	Reports  services.ReportsService
	Log      *zap.Logger
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// BindJSONOrError ensures body is present and parsable.
func BindJSONOrError[T any](c *gin.Context, dst *T) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		respondError(c, http.StatusBadRequest, "invalid_body", "request body is required")
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", "invalid payload: "+err.Error())
		return false
	}
	return true
}

func caller(c *gin.Context) domain.RequestContext {
	rc, _ := middleware.CurrentUser(c)
	return rc
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}
