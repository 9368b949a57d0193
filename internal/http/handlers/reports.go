package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"shuttle/internal/domain"
	"shuttle/internal/services"
	"shuttle/internal/utils"
)

// GET /api/admin/reports/occupancy?from=&to=
func (h *Handler) OccupancyReport(c *gin.Context) {
	var f services.OccupancyFilter
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := utils.ParseTimestamp(raw)
		if err != nil {
			h.RespondDomainError(c, domain.ValidationError{Field: name, Msg: "use RFC3339 or YYYY-MM-DD HH:MM:SS"})
			return
		}
		*dst = &t
	}
	rows, err := h.Reports.Occupancy(c.Request.Context(), caller(c), f)
	if err != nil {
		h.RespondDomainError(c, err)
		return
	}
	ok(c, rows)
}
