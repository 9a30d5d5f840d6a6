package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"medikiosk/internal/dispense"
	"medikiosk/internal/metrics"
	"medikiosk/internal/store"
)

// Dispenser runs patient dispense requests.
type Dispenser interface {
	RequestDispense(ctx context.Context, req dispense.Request) (*dispense.Receipt, error)
}

// DeviceProber reports whether the dispensing device is reachable.
type DeviceProber interface {
	Probe(ctx context.Context) (bool, error)
	Endpoint() string
}

// Deps are the collaborators of the kiosk API.
type Deps struct {
	Store     store.Store
	Dispenser Dispenser
	Device    DeviceProber
	Metrics   *metrics.Metrics
	Webpush   *webpush.Options
	// Location is the timezone of the kiosk's calendar day for statistics.
	Location *time.Location
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	dispenser Dispenser
	device    DeviceProber
	metrics   *metrics.Metrics
	webpush   *webpush.Options
	location  *time.Location
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		store:     d.Store,
		dispenser: d.Dispenser,
		device:    d.Device,
		metrics:   d.Metrics,
		webpush:   d.Webpush,
		location:  loc,
		now:       time.Now,
	}
}
