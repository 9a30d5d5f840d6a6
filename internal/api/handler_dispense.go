package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medikiosk/internal/dispense"
)

type postDispenseRequest struct {
	PatientName  string `json:"patientName" binding:"required"`
	PatientPhone string `json:"patientPhone" binding:"required"`
	MedicineKind string `json:"medicineKind" binding:"required"`
}

// PostDispense handles POST /api/dispense.
func (h *Handler) PostDispense(c *gin.Context) {
	var req postDispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patientName, patientPhone and medicineKind are required"})
		return
	}

	receipt, err := h.dispenser.RequestDispense(c.Request.Context(), dispense.Request{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		MedicineKind: req.MedicineKind,
	})
	if err != nil {
		status, message := dispenseError(err)
		if status >= http.StatusInternalServerError {
			c.Error(err)
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

// dispenseError maps an orchestrator error to a status and a message the
// patient can act on.
func dispenseError(err error) (int, string) {
	var failed *dispense.DispenseFailedError
	switch {
	case errors.Is(err, dispense.ErrUnknownMedicine):
		return http.StatusBadRequest, "This medicine is not available at this kiosk. Please choose another."
	case errors.Is(err, dispense.ErrInvalidPatient):
		return http.StatusBadRequest, "Please enter your name and phone number."
	case errors.Is(err, dispense.ErrNotRecorded):
		return http.StatusInternalServerError, "Your medicine was dispensed but could not be recorded. Please inform the staff and do not try again."
	case errors.Is(err, dispense.ErrOutOfStock):
		return http.StatusConflict, "This medicine is out of stock. Please try again after the kiosk is refilled."
	case errors.As(err, &failed):
		return http.StatusBadGateway, "Dispensing failed. Please try again."
	default:
		log.Error().Err(err).Msg("unexpected dispense error")
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}
