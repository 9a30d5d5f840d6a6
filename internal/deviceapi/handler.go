package deviceapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medikiosk/internal/motor"
)

// Error codes carried in the "code" field of error responses.
const (
	CodeBadRequest      = "bad_request"
	CodeInvalidMotor    = "invalid_motor"
	CodeActuatorFailure = "actuator_failure"
)

// Response is the body of every dispenser reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type dispenseRequest struct {
	MotorNumber *int `json:"motorNumber"`
}

type motorStatus struct {
	MotorNumber int         `json:"motorNumber"`
	State       motor.State `json:"state"`
}

// Handler serves the dispenser endpoints.
type Handler struct {
	controller *motor.Controller
}

// NewHandler creates a new dispenser API handler.
func NewHandler(controller *motor.Controller) *Handler {
	return &Handler{controller: controller}
}

// Dispense handles POST /api/dispense. motorNumber is 1-based.
func (h *Handler) Dispense(c *gin.Context) {
	var req dispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MotorNumber == nil {
		c.JSON(http.StatusBadRequest, Response{Status: "error", Code: CodeBadRequest, Message: "Missing motor number"})
		return
	}

	motorNumber := *req.MotorNumber
	err := h.controller.Dispense(c.Request.Context(), motorNumber-1)

	var invalid *motor.InvalidMotorError
	switch {
	case errors.As(err, &invalid):
		log.Warn().Int("motor", motorNumber).Msg("rejected dispense for invalid motor")
		c.JSON(http.StatusBadRequest, Response{
			Status:  "error",
			Code:    CodeInvalidMotor,
			Message: fmt.Sprintf("Invalid motor number: %d", motorNumber),
		})
	case err != nil:
		log.Error().Err(err).Int("motor", motorNumber).Msg("dispense cycle failed")
		c.JSON(http.StatusInternalServerError, Response{
			Status:  "error",
			Code:    CodeActuatorFailure,
			Message: "Failed to dispense medicine",
		})
	default:
		c.JSON(http.StatusOK, Response{
			Status:  "success",
			Message: fmt.Sprintf("Medicine dispensed using motor %d", motorNumber),
		})
	}
}

// Test handles GET /api/test, the liveness probe used by the kiosk.
func (h *Handler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Status: "success", Message: "dispenser is running"})
}

// Motors handles GET /api/motors.
func (h *Handler) Motors(c *gin.Context) {
	statuses := make([]motorStatus, 0, h.controller.MotorCount())
	for i := 0; i < h.controller.MotorCount(); i++ {
		state, _ := h.controller.State(i)
		statuses = append(statuses, motorStatus{MotorNumber: i + 1, State: state})
	}
	c.JSON(http.StatusOK, statuses)
}
