// Package teleop turns operator joystick input into vehicle commands.
package teleop

import (
	"math"

	"github.com/open-teleop/rov-controller/pkg/msgs"
)

const (
	// OverrideChannels is the number of rc channels an override carries.
	OverrideChannels = 8
	// NoOverride leaves a channel under autopilot control.
	NoOverride uint16 = 0
)

// Mapper converts joystick axes in [-1, 1] to rc override pulse widths.
type Mapper struct {
	Gain    float64
	Neutral float64
}

// DefaultMapper maps full deflection to 1100..1900 around 1500.
func DefaultMapper() Mapper {
	return Mapper{Gain: 400, Neutral: 1500}
}

// MapAxes maps axes with DefaultMapper.
func MapAxes(axes []float64) [OverrideChannels]uint16 {
	return DefaultMapper().Map(axes)
}

// Map returns the override channels for axes. Axis i drives channel i;
// channels without an axis carry NoOverride and axes past the eighth are
// ignored. Axes are clamped to [-1, 1] and NaN counts as centred.
func (m Mapper) Map(axes []float64) [OverrideChannels]uint16 {
	var channels [OverrideChannels]uint16
	for i := 0; i < len(axes) && i < OverrideChannels; i++ {
		channels[i] = m.channel(axes[i])
	}
	return channels
}

// Override wraps Map in an override message.
func (m Mapper) Override(axes []float64) msgs.OverrideRCIn {
	return msgs.OverrideRCIn{Channels: m.Map(axes)}
}

func (m Mapper) channel(axis float64) uint16 {
	pwm := math.Round(clampAxis(axis)*m.Gain + m.Neutral)
	if pwm < 1 {
		// 0 would read as NoOverride
		pwm = 1
	}
	if pwm > math.MaxUint16 {
		pwm = math.MaxUint16
	}
	return uint16(pwm)
}

func clampAxis(axis float64) float64 {
	switch {
	case math.IsNaN(axis):
		return 0
	case axis > 1:
		return 1
	case axis < -1:
		return -1
	}
	return axis
}

// Truncated reports whether Map drops any of axes.
func Truncated(axes []float64) bool {
	return len(axes) > OverrideChannels
}
