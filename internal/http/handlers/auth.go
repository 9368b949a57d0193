package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shuttle/internal/services"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req services.RegisterInput
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.Auth.Register(c.Request.Context(), req)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, res)
}

// GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	ok(c, caller(c))
}
