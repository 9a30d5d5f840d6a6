package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// DeviceStatusResponse is the informational reachability of the device.
type DeviceStatusResponse struct {
	Connected bool   `json:"connected"`
	Endpoint  string `json:"endpoint"`
}

// GetDeviceStatus handles GET /api/device/status. An unreachable device is a
// normal answer, not an error.
func (h *Handler) GetDeviceStatus(c *gin.Context) {
	ok, err := h.device.Probe(c.Request.Context())
	if err != nil {
		log.Debug().Err(err).Str("endpoint", h.device.Endpoint()).Msg("device probe failed")
	}
	c.JSON(http.StatusOK, DeviceStatusResponse{Connected: ok, Endpoint: h.device.Endpoint()})
}

// Healthz handles GET /healthz. It checks that the ledger answers.
func (h *Handler) Healthz(c *gin.Context) {
	if _, err := h.store.GetSlots(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
