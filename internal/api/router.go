package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"medikiosk/config"
	"medikiosk/internal/mw"
)

// NewRouter creates and configures the kiosk router. metricsHandler may be nil.
func NewRouter(h *Handler, cfg config.ServerConfig, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// The status probe can take up to the device timeout, so its answer is reused briefly.
	statusTTL := time.Duration(cfg.StatusCacheSeconds) * time.Second
	statusCache := mw.Cache(cache.New(statusTTL, 2*statusTTL), statusTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/slots", h.GetSlots)
		api.PUT("/slots/:slot_id/stock", h.PutStock)

		api.POST("/dispense", h.PostDispense)
		api.GET("/history", h.GetHistory)
		api.GET("/stats", h.GetStats)

		api.GET("/device/status", statusCache, h.GetDeviceStatus)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.GET("/healthz", h.Healthz)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return r
}
