package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// GetHistory handles GET /api/history. The optional limit query parameter
// caps the number of events returned, newest first.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	events, err := h.store.ListHistory(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load history")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history"})
		return
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	c.JSON(http.StatusOK, events)
}

// GetStats handles GET /api/stats. "Today" is the kiosk's calendar day.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.GetStats(c.Request.Context(), h.now().In(h.location))
	if err != nil {
		log.Error().Err(err).Msg("failed to compute stats")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
