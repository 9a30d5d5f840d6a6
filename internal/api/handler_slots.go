package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medikiosk/internal/medicine"
	"medikiosk/internal/model"
	"medikiosk/internal/store"
)

// SlotResponse is a slot joined with its catalog entry.
type SlotResponse struct {
	ID             string        `json:"slotId"`
	Kind           medicine.Kind `json:"medicineKind"`
	DisplayName    string        `json:"displayName"`
	Description    string        `json:"description"`
	MotorNumber    int           `json:"motorNumber"`
	StockCount     int           `json:"stockCount"`
	LastRefilledAt time.Time     `json:"lastRefilledAt"`
}

func newSlotResponse(slot model.MedicineSlot) SlotResponse {
	info, _ := medicine.Lookup(slot.Kind)
	return SlotResponse{
		ID:             slot.ID,
		Kind:           slot.Kind,
		DisplayName:    slot.DisplayName,
		Description:    info.Description,
		MotorNumber:    info.MotorNumber,
		StockCount:     slot.StockCount,
		LastRefilledAt: slot.LastRefilledAt,
	}
}

// GetSlots handles GET /api/slots.
func (h *Handler) GetSlots(c *gin.Context) {
	slots, err := h.store.GetSlots(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load slots")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve slots"})
		return
	}

	response := make([]SlotResponse, 0, len(slots))
	for _, slot := range slots {
		response = append(response, newSlotResponse(slot))
	}
	c.JSON(http.StatusOK, response)
}

type putStockRequest struct {
	Count *int `json:"count" binding:"required"`
}

// PutStock handles PUT /api/slots/:slot_id/stock. It sets an absolute count.
func (h *Handler) PutStock(c *gin.Context) {
	var req putStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count is required"})
		return
	}

	slot, err := h.store.SetStock(c.Request.Context(), c.Param("slot_id"), *req.Count)
	switch {
	case errors.Is(err, store.ErrInvalidStockCount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stock count must not be negative"})
		return
	case errors.Is(err, store.ErrSlotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "slot not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("slot", c.Param("slot_id")).Msg("failed to set stock")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update stock"})
		return
	}

	h.metrics.SetStock(string(slot.Kind), slot.StockCount)
	c.JSON(http.StatusOK, newSlotResponse(*slot))
}
