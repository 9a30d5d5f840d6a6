package deviceapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medikiosk/internal/mw"
)

// NewRouter creates the dispenser's Gin router. metricsHandler may be nil.
func NewRouter(h *Handler, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	api := r.Group("/api")
	{
		api.POST("/dispense", h.Dispense)
		api.GET("/test", h.Test)
		api.GET("/motors", h.Motors)
	}

	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return r
}
