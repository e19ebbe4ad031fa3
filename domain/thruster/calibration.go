// Package thruster converts autopilot PWM outputs into thruster commands.
package thruster

import (
	"errors"
	"fmt"
	"math"

	"github.com/open-teleop/rov-controller/pkg/config"
)

// ErrShortOutput is returned when an output vector has fewer channels than
// there are thrusters.
var ErrShortOutput = errors.New("not enough output channels")

// Point is one (pwm, thrust) sample of a measured thruster response.
type Point struct {
	PWM    int
	Thrust float64
}

// Calibration maps a PWM pulse width to a thrust command. Without a Table
// the response is linear on each side of Neutral, with a symmetric dead
// band around it. With a Table the response is interpolated between
// points and the gains and Deadband are unused.
type Calibration struct {
	Neutral     int
	MinPWM      int
	MaxPWM      int
	ForwardGain float64
	ReverseGain float64
	Deadband    int
	Table       []Point
}

// DefaultCalibration maps 1100..1900 linearly onto -1..1.
func DefaultCalibration() Calibration {
	return Calibration{
		Neutral:     1500,
		MinPWM:      1100,
		MaxPWM:      1900,
		ForwardGain: 1.0 / 400,
		ReverseGain: 1.0 / 400,
	}
}

// FromConfig converts the thrusters section of the vehicle config.
func FromConfig(cfg config.ThrusterConfig) Calibration {
	c := Calibration{
		Neutral:     cfg.Neutral,
		MinPWM:      cfg.MinPWM,
		MaxPWM:      cfg.MaxPWM,
		ForwardGain: cfg.ForwardGain,
		ReverseGain: cfg.ReverseGain,
		Deadband:    cfg.Deadband,
	}
	for _, p := range cfg.Table {
		c.Table = append(c.Table, Point{PWM: p.PWM, Thrust: p.Thrust})
	}
	return c
}

// Validate checks that the calibration is monotonic and zero at neutral.
func (c Calibration) Validate() error {
	if !(c.MinPWM < c.Neutral && c.Neutral < c.MaxPWM) {
		return fmt.Errorf("invalid calibration: need min_pwm < neutral < max_pwm, got %d/%d/%d", c.MinPWM, c.Neutral, c.MaxPWM)
	}

	if len(c.Table) == 0 {
		if c.ForwardGain <= 0 || c.ReverseGain <= 0 {
			return fmt.Errorf("invalid calibration: gains must be positive, got %v/%v", c.ForwardGain, c.ReverseGain)
		}
		span := min(c.Neutral-c.MinPWM, c.MaxPWM-c.Neutral)
		if c.Deadband < 0 || c.Deadband >= span {
			return fmt.Errorf("invalid calibration: deadband %d must be in [0, %d)", c.Deadband, span)
		}
		return nil
	}

	if len(c.Table) < 2 {
		return fmt.Errorf("invalid calibration: table needs at least 2 points, got %d", len(c.Table))
	}
	hasNeutral := false
	for i, p := range c.Table {
		if p.PWM == c.Neutral {
			if p.Thrust != 0 {
				return fmt.Errorf("invalid calibration: thrust at neutral %d is %v, want 0", c.Neutral, p.Thrust)
			}
			hasNeutral = true
		}
		if i == 0 {
			continue
		}
		prev := c.Table[i-1]
		if p.PWM <= prev.PWM {
			return fmt.Errorf("invalid calibration: table pwm must increase, %d follows %d", p.PWM, prev.PWM)
		}
		if p.Thrust < prev.Thrust {
			return fmt.Errorf("invalid calibration: table thrust decreases between pwm %d and %d", prev.PWM, p.PWM)
		}
	}
	if !hasNeutral {
		return fmt.Errorf("invalid calibration: table has no point at neutral %d", c.Neutral)
	}
	return nil
}

// Thrust returns the thrust command for pwm. Values outside
// [MinPWM, MaxPWM] are clamped first.
func (c Calibration) Thrust(pwm int) float64 {
	pwm = max(c.MinPWM, min(pwm, c.MaxPWM))

	if len(c.Table) > 0 {
		return c.interpolate(pwm)
	}

	offset := pwm - c.Neutral
	switch {
	case offset > c.Deadband:
		return c.ForwardGain * float64(offset-c.Deadband)
	case offset < -c.Deadband:
		return c.ReverseGain * float64(offset+c.Deadband)
	default:
		return 0
	}
}

func (c Calibration) interpolate(pwm int) float64 {
	first, last := c.Table[0], c.Table[len(c.Table)-1]
	if pwm <= first.PWM {
		return first.Thrust
	}
	if pwm >= last.PWM {
		return last.Thrust
	}

	for i := 1; i < len(c.Table); i++ {
		hi := c.Table[i]
		if pwm > hi.PWM {
			continue
		}
		lo := c.Table[i-1]
		frac := float64(pwm-lo.PWM) / float64(hi.PWM-lo.PWM)
		return lo.Thrust + frac*(hi.Thrust-lo.Thrust)
	}
	return last.Thrust
}

// ThrustAll converts the first n channels. It fails with ErrShortOutput
// rather than returning a partial vector.
func (c Calibration) ThrustAll(channels []uint16, n int) ([]float64, error) {
	if len(channels) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortOutput, len(channels), n)
	}

	thrust := make([]float64, n)
	for i := range thrust {
		thrust[i] = c.Thrust(int(channels[i]))
	}
	return thrust, nil
}

// IsSymmetric reports whether Thrust(Neutral+d) == -Thrust(Neutral-d) holds
// for every d: equal gains, a range centred on Neutral and no table.
func (c Calibration) IsSymmetric() bool {
	return len(c.Table) == 0 &&
		c.Neutral-c.MinPWM == c.MaxPWM-c.Neutral &&
		math.Abs(c.ForwardGain-c.ReverseGain) < 1e-12
}
