// Package motor drives the dispensing servos on the device. Each motor runs an
// independent Idle -> Actuating -> Settling -> Idle cycle.
//
// A completed cycle means the servo finished its motion sequence. Nothing senses
// whether a unit actually dropped, so a jammed or empty channel still reports success.
package motor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the phase of a single motor's dispense cycle.
type State string

const (
	StateIdle      State = "idle"
	StateActuating State = "actuating"
	StateSettling  State = "settling"
)

// InvalidMotorError is returned for an index outside the fixed motor set.
type InvalidMotorError struct {
	Index int
	Count int
}

func (e *InvalidMotorError) Error() string {
	return fmt.Sprintf("invalid motor index %d (have %d motors)", e.Index, e.Count)
}

// Actuator moves one servo to an angle and returns once the move has finished.
type Actuator interface {
	SetAngle(ctx context.Context, motorIndex int, angle float64) error
}

// Config holds the fixed dispense sequence.
type Config struct {
	MotorCount     int
	DispenseAngle  float64
	RestAngle      float64
	SettleDuration time.Duration
}

// CycleObserver is notified after every completed or failed cycle.
type CycleObserver func(motorIndex int, duration time.Duration, err error)

type motorSlot struct {
	mu    sync.Mutex // held for the whole cycle
	state State
	// stateMu guards state so State() does not wait on a running cycle.
	stateMu sync.RWMutex
}

// Controller sequences dispense cycles over an Actuator.
type Controller struct {
	cfg      Config
	actuator Actuator
	motors   []*motorSlot
	observer CycleObserver
}

// NewController creates a controller for cfg.MotorCount motors.
func NewController(cfg Config, actuator Actuator) *Controller {
	motors := make([]*motorSlot, cfg.MotorCount)
	for i := range motors {
		motors[i] = &motorSlot{state: StateIdle}
	}
	return &Controller{cfg: cfg, actuator: actuator, motors: motors}
}

// OnCycle registers an observer for finished cycles.
func (c *Controller) OnCycle(observer CycleObserver) {
	c.observer = observer
}

// MotorCount returns the number of physical channels.
func (c *Controller) MotorCount() int {
	return len(c.motors)
}

// State returns the current phase of motor motorIndex.
func (c *Controller) State(motorIndex int) (State, error) {
	if err := c.validate(motorIndex); err != nil {
		return "", err
	}
	m := c.motors[motorIndex]
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state, nil
}

// Dispense runs one full cycle on motorIndex: move to the dispense angle, hold
// for the settle duration, return to rest. Calls for the same motor are
// serialized; different motors run concurrently.
//
// A call queued behind a running cycle is dropped if ctx is done by the time
// the motor is free. Once the cycle has started it runs to completion even if
// ctx is cancelled, since a servo already in motion cannot be recalled.
func (c *Controller) Dispense(ctx context.Context, motorIndex int) error {
	if err := c.validate(motorIndex); err != nil {
		return err
	}

	m := c.motors[motorIndex]
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Int("motor", motorIndex+1).Msg("dispense dropped: requester left while queued")
		return fmt.Errorf("motor %d: %w", motorIndex+1, err)
	}

	start := time.Now()
	err := c.runCycle(context.WithoutCancel(ctx), motorIndex, m)
	if c.observer != nil {
		c.observer(motorIndex, time.Since(start), err)
	}
	return err
}

func (c *Controller) runCycle(ctx context.Context, motorIndex int, m *motorSlot) error {
	defer m.setState(StateIdle)

	log.Info().Int("motor", motorIndex+1).Msg("dispense cycle started")

	m.setState(StateActuating)
	if err := c.actuator.SetAngle(ctx, motorIndex, c.cfg.DispenseAngle); err != nil {
		c.returnToRest(ctx, motorIndex)
		return fmt.Errorf("motor %d: move to dispense position: %w", motorIndex+1, err)
	}

	m.setState(StateSettling)
	time.Sleep(c.cfg.SettleDuration)

	if err := c.actuator.SetAngle(ctx, motorIndex, c.cfg.RestAngle); err != nil {
		return fmt.Errorf("motor %d: return to rest position: %w", motorIndex+1, err)
	}

	log.Info().Int("motor", motorIndex+1).Msg("dispense cycle completed")
	return nil
}

// returnToRest is a best-effort recovery after a failed outbound move.
func (c *Controller) returnToRest(ctx context.Context, motorIndex int) {
	if err := c.actuator.SetAngle(ctx, motorIndex, c.cfg.RestAngle); err != nil {
		log.Error().Err(err).Int("motor", motorIndex+1).Msg("failed to return motor to rest")
	}
}

func (c *Controller) validate(motorIndex int) error {
	if motorIndex < 0 || motorIndex >= len(c.motors) {
		return &InvalidMotorError{Index: motorIndex, Count: len(c.motors)}
	}
	return nil
}

func (m *motorSlot) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}
