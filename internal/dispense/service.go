// Package dispense orchestrates one patient dispense request: it checks stock,
// commands the device and commits the ledger only after the device (or the
// simulated fallback) has completed a cycle.
package dispense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"medikiosk/internal/device"
	"medikiosk/internal/medicine"
	"medikiosk/internal/metrics"
	"medikiosk/internal/model"
	"medikiosk/internal/parse"
	"medikiosk/internal/store"
)

// Request outcomes recorded in metrics.
const (
	OutcomeDispensed   = "dispensed"
	OutcomeSimulated   = "simulated"
	OutcomeUnknown     = "unknown_medicine"
	OutcomeOutOfStock  = "out_of_stock"
	OutcomeFailed      = "failed"
	OutcomeNotRecorded = "not_recorded"
)

var (
	// ErrUnknownMedicine is returned when the requested kind is not in the catalog.
	ErrUnknownMedicine = errors.New("unknown medicine")
	// ErrOutOfStock is returned when the slot has no units left. No device
	// command is sent.
	ErrOutOfStock = errors.New("medicine is out of stock")
	// ErrInvalidPatient is returned when the patient name or phone is blank.
	ErrInvalidPatient = errors.New("patient name and phone are required")
	// ErrNotRecorded is returned when the device completed a cycle but the
	// ledger commit failed. The unit has left the machine, so the request must
	// not be retried.
	ErrNotRecorded = errors.New("medicine was dispensed but could not be recorded")
)

// DispenseFailedError reports that the device did not complete a cycle. The
// ledger is unchanged and the request can be retried.
type DispenseFailedError struct {
	Kind  medicine.Kind
	Cause error
}

func (e *DispenseFailedError) Error() string {
	return fmt.Sprintf("failed to dispense %s: %v", e.Kind, e.Cause)
}

func (e *DispenseFailedError) Unwrap() error {
	return e.Cause
}

// Transport sends one dispense command to the device.
type Transport interface {
	SendDispense(ctx context.Context, motorNumber int) (*device.Result, error)
}

// Notifier receives low-stock alerts. Implementations must not block.
type Notifier interface {
	NotifyLowStock(slot model.MedicineSlot)
}

// Request is a patient's dispense request as entered at the kiosk.
type Request struct {
	PatientName  string `json:"patientName"`
	PatientPhone string `json:"patientPhone"`
	MedicineKind string `json:"medicineKind"`
}

// Receipt describes a committed dispense.
type Receipt struct {
	Event          model.DispenseEvent `json:"event"`
	Simulated      bool                `json:"simulated"`
	RemainingStock int                 `json:"remainingStock"`
	Message        string              `json:"message"`
}

// Options configures optional collaborators of the Service.
type Options struct {
	LowStockThreshold int
	Notifier          Notifier
	Metrics           *metrics.Metrics
}

// Service is the single place that decides whether the ledger is mutated.
type Service struct {
	store     store.Store
	transport Transport
	opts      Options

	// locks holds one binary semaphore per slot, held from the stock check
	// until the ledger commit.
	locks map[string]chan struct{}
	now   func() time.Time
}

// NewService creates a dispense service for the catalog slots.
func NewService(st store.Store, transport Transport, opts Options) *Service {
	locks := make(map[string]chan struct{})
	for _, info := range medicine.All() {
		locks[info.Kind.SlotID()] = make(chan struct{}, 1)
	}
	return &Service{
		store:     st,
		transport: transport,
		opts:      opts,
		locks:     locks,
		now:       time.Now,
	}
}

// RequestDispense runs one dispense. On success exactly one unit is removed
// from stock and one history event is appended; on any error the ledger is
// unchanged, except for ErrNotRecorded.
func (s *Service) RequestDispense(ctx context.Context, req Request) (*Receipt, error) {
	start := s.now()

	kind, err := parse.Kind(req.MedicineKind)
	if err != nil {
		s.observe("unknown", OutcomeUnknown, start)
		return nil, fmt.Errorf("%w: %v", ErrUnknownMedicine, err)
	}
	name := strings.TrimSpace(req.PatientName)
	phone := strings.TrimSpace(req.PatientPhone)
	if name == "" || phone == "" {
		return nil, ErrInvalidPatient
	}

	slotID := kind.SlotID()
	release, err := s.lock(ctx, slotID)
	if err != nil {
		return nil, &DispenseFailedError{Kind: kind, Cause: err}
	}
	defer release()

	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		s.observe(string(kind), OutcomeFailed, start)
		return nil, &DispenseFailedError{Kind: kind, Cause: err}
	}
	if slot.StockCount <= 0 {
		s.observe(string(kind), OutcomeOutOfStock, start)
		log.Info().Str("kind", string(kind)).Msg("dispense refused: out of stock")
		return nil, fmt.Errorf("%w: %s", ErrOutOfStock, slot.DisplayName)
	}

	// Once the command is dispatched the caller can no longer stop the motor,
	// so the outcome must be seen through to the commit. The device timeout
	// still bounds the call.
	detached := context.WithoutCancel(ctx)
	motorNumber := medicine.MotorNumber(kind)
	result, err := s.transport.SendDispense(detached, motorNumber)
	if err != nil {
		var rejected *device.RejectedError
		if errors.As(err, &rejected) && rejected.InvalidMotor() {
			log.Error().Err(err).Str("kind", string(kind)).Int("motor", motorNumber).
				Msg("device rejected motor number; catalog and device motor sets disagree")
		} else {
			log.Warn().Err(err).Str("kind", string(kind)).Int("motor", motorNumber).Msg("dispense failed")
		}
		s.observe(string(kind), OutcomeFailed, start)
		return nil, &DispenseFailedError{Kind: kind, Cause: err}
	}

	event := &model.DispenseEvent{
		PatientName:  name,
		PatientPhone: phone,
		Kind:         kind,
		DispensedAt:  s.now(),
		Simulated:    result.Simulated,
	}
	updated, err := s.store.DecrementAndLog(detached, slotID, event)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Int("motor", motorNumber).Bool("simulated", result.Simulated).
			Msg("device completed a cycle but the ledger commit failed")
		s.observe(string(kind), OutcomeNotRecorded, start)
		if errors.Is(err, store.ErrOutOfStock) {
			err = fmt.Errorf("%w: %w", ErrOutOfStock, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}

	outcome := OutcomeDispensed
	if result.Simulated {
		outcome = OutcomeSimulated
	}
	s.observe(string(kind), outcome, start)
	s.opts.Metrics.SetStock(string(kind), updated.StockCount)

	log.Info().Str("kind", string(kind)).Str("event", event.ID).Int("remaining", updated.StockCount).
		Bool("simulated", result.Simulated).Msg("dispense committed")

	if s.opts.Notifier != nil && updated.StockCount <= s.opts.LowStockThreshold {
		s.opts.Notifier.NotifyLowStock(*updated)
	}

	return &Receipt{
		Event:          *event,
		Simulated:      result.Simulated,
		RemainingStock: updated.StockCount,
		Message:        result.Message,
	}, nil
}

// lock acquires the slot semaphore or gives up when ctx is done.
func (s *Service) lock(ctx context.Context, slotID string) (func(), error) {
	sem, ok := s.locks[slotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSlotNotFound, slotID)
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) observe(kind, outcome string, start time.Time) {
	s.opts.Metrics.ObserveDispense(kind, outcome, s.now().Sub(start))
}

// PublishStock sets the stock gauge for every slot.
func (s *Service) PublishStock(ctx context.Context) error {
	slots, err := s.store.GetSlots(ctx)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		s.opts.Metrics.SetStock(string(slot.Kind), slot.StockCount)
	}
	return nil
}
