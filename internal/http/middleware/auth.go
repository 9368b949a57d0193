package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shuttle/internal/domain"
)

const userKey = "auth_user"

// Authenticator resolves a bearer token to the calling user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.RequestContext, error)
}

// Auth requires a valid bearer token and stores the caller on the context.
func Auth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		rc, err := a.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			if domain.IsUnauthorized(err) {
				abort(c, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			abort(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		c.Set(userKey, rc)
		c.Next()
	}
}

// RequireCapability rejects callers whose role does not grant want.
func RequireCapability(want domain.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := CurrentUser(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if err := rc.Require(want); err != nil {
			abort(c, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		c.Next()
	}
}

// CurrentUser returns the caller stored by Auth.
func CurrentUser(c *gin.Context) (domain.RequestContext, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return domain.RequestContext{}, false
	}
	rc, ok := v.(domain.RequestContext)
	return rc, ok
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": GetRequestID(c),
	})
}
