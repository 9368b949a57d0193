package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shuttle/internal/services"
)

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

type assignDriverRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
}

// GET /api/admin/users?role=
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.Users.ListUsers(c.Request.Context(), caller(c), c.Query("role"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, users)
}

// PUT /api/admin/users/:id/role
func (h *Handler) ChangeRole(c *gin.Context) {
	var req roleRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	u, res, err := h.Users.ChangeRole(c.Request.Context(), caller(c), c.Param("id"), req.Role)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, gin.H{"user": u, "cascade": res})
}

// DELETE /api/admin/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	res, err := h.Users.DeleteUser(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, res)
}

// GET /api/admin/drivers
func (h *Handler) ListDrivers(c *gin.Context) {
	drivers, err := h.Users.ListDrivers(c.Request.Context(), caller(c))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, drivers)
}

// POST /api/admin/drivers
func (h *Handler) CreateDriver(c *gin.Context) {
	var req services.RegisterInput
	if !BindJSONOrError(c, &req) {
		return
	}
	u, err := h.Auth.CreateDriver(c.Request.Context(), caller(c), req)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": u})
}

// DELETE /api/admin/drivers/:id
func (h *Handler) DeleteDriver(c *gin.Context) {
	res, err := h.Users.DeleteDriver(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, res)
}

// POST /api/admin/journeys/:id/assign-driver
func (h *Handler) AssignDriver(c *gin.Context) {
	var req assignDriverRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	j, err := h.Journeys.AssignDriver(c.Request.Context(), caller(c), c.Param("id"), req.DriverID)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, j)
}

// DELETE /api/admin/journeys/:id/driver
func (h *Handler) UnassignDriver(c *gin.Context) {
	if err := h.Journeys.UnassignDriver(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/driver/journeys
func (h *Handler) DriverJourneys(c *gin.Context) {
	journeys, err := h.Journeys.DriverJourneys(c.Request.Context(), caller(c))
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, journeys)
}
