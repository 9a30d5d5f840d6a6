// Package monitor periodically probes the dispensing device and republishes
// slot stock, so the dashboards stay current between dispenses.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"medikiosk/internal/metrics"
	"medikiosk/internal/model"
)

// Prober checks device liveness.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
	Endpoint() string
}

// SlotLister is the part of the ledger the monitor reads.
type SlotLister interface {
	GetSlots(ctx context.Context) ([]model.MedicineSlot, error)
}

// Service runs the periodic checks.
type Service struct {
	prober   Prober
	slots    SlotLister
	metrics  *metrics.Metrics
	interval time.Duration

	up *bool // last observed device state, nil before the first probe
}

// NewService creates a monitor that checks every interval.
func NewService(prober Prober, slots SlotLister, m *metrics.Metrics, interval time.Duration) *Service {
	return &Service{prober: prober, slots: slots, metrics: m, interval: interval}
}

// Run checks once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Str("endpoint", s.prober.Endpoint()).Msg("starting device monitor")

	s.CheckOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("device monitor shutting down")
			return
		case <-timer.C:
			s.CheckOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// CheckOnce probes the device and publishes the current stock. It reports
// whether the device answered.
func (s *Service) CheckOnce(ctx context.Context) bool {
	ok, err := s.prober.Probe(ctx)
	s.metrics.SetDeviceUp(ok)

	switch {
	case s.up == nil || *s.up != ok:
		event := log.Info()
		if !ok {
			event = log.Warn().Err(err)
		}
		event.Str("endpoint", s.prober.Endpoint()).Bool("connected", ok).Msg("device reachability changed")
	case !ok:
		log.Debug().Err(err).Str("endpoint", s.prober.Endpoint()).Msg("device still unreachable")
	}
	s.up = &ok

	slots, err := s.slots.GetSlots(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load slots for stock metrics")
		return ok
	}
	for _, slot := range slots {
		s.metrics.SetStock(string(slot.Kind), slot.StockCount)
	}
	return ok
}
