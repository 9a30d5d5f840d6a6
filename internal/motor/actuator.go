package motor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// SimulatedActuator logs each move and waits the move time. It is used when
// the controller runs without servo hardware.
type SimulatedActuator struct {
	MoveDuration time.Duration
}

// SetAngle implements Actuator.
func (a *SimulatedActuator) SetAngle(ctx context.Context, motorIndex int, angle float64) error {
	log.Debug().Int("motor", motorIndex+1).Float64("angle", angle).Msg("simulated servo move")
	time.Sleep(a.MoveDuration)
	return nil
}

const servoPeriodNanos = 20_000_000 // 50 Hz

// SysfsPWMActuator drives hobby servos through the Linux PWM sysfs interface,
// one PWM channel per motor. Channels are exported and enabled lazily.
type SysfsPWMActuator struct {
	Chip         string // e.g. /sys/class/pwm/pwmchip0
	Channels     []int  // PWM channel per motor index
	MoveDuration time.Duration
}

// DutyNanos converts a servo angle (0-180) into a duty cycle for a 20ms period:
// 2% at 0 degrees plus 1% per 18 degrees.
func DutyNanos(angle float64) int64 {
	percent := 2 + angle/18
	return int64(math.Round(percent / 100 * servoPeriodNanos))
}

// SetAngle implements Actuator. The duty is released after the move so the
// servo does not jitter while holding.
func (a *SysfsPWMActuator) SetAngle(ctx context.Context, motorIndex int, angle float64) error {
	if motorIndex < 0 || motorIndex >= len(a.Channels) {
		return &InvalidMotorError{Index: motorIndex, Count: len(a.Channels)}
	}
	dir, err := a.prepare(a.Channels[motorIndex])
	if err != nil {
		return err
	}

	if err := writeValue(dir, "duty_cycle", DutyNanos(angle)); err != nil {
		return err
	}
	time.Sleep(a.MoveDuration)
	return writeValue(dir, "duty_cycle", 0)
}

func (a *SysfsPWMActuator) prepare(channel int) (string, error) {
	dir := filepath.Join(a.Chip, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeValue(a.Chip, "export", int64(channel)); err != nil {
			return "", err
		}
	}
	if err := writeValue(dir, "period", servoPeriodNanos); err != nil {
		return "", err
	}
	if err := writeValue(dir, "enable", 1); err != nil {
		return "", err
	}
	return dir, nil
}

func writeValue(dir, name string, v int64) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
