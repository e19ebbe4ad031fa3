package teleop

import (
	"github.com/open-teleop/rov-controller/pkg/config"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

// AxisBinding scales one joystick axis onto a velocity component.
// A zero Scale leaves the component at 0.
type AxisBinding struct {
	Axis  int
	Scale float64
}

func (b AxisBinding) value(axes []float64) float64 {
	if b.Scale == 0 || b.Axis < 0 || b.Axis >= len(axes) {
		return 0
	}
	return clampAxis(axes[b.Axis]) * b.Scale
}

// VelocityMapping builds velocity setpoints from joystick axes.
type VelocityMapping struct {
	FrameID  string
	LinearX  AxisBinding
	LinearY  AxisBinding
	LinearZ  AxisBinding
	AngularZ AxisBinding
}

// NewVelocityMapping converts the velocity section of the vehicle config.
func NewVelocityMapping(cfg config.VelocityConfig) VelocityMapping {
	bind := func(b config.AxisBinding) AxisBinding {
		return AxisBinding{Axis: b.Axis, Scale: b.Scale}
	}
	return VelocityMapping{
		FrameID:  cfg.FrameID,
		LinearX:  bind(cfg.LinearX),
		LinearY:  bind(cfg.LinearY),
		LinearZ:  bind(cfg.LinearZ),
		AngularZ: bind(cfg.AngularZ),
	}
}

// Setpoint returns the velocity setpoint for axes. Missing axes contribute 0.
func (v VelocityMapping) Setpoint(axes []float64) msgs.TwistStamped {
	return msgs.TwistStamped{
		Header: msgs.NewHeader(v.FrameID),
		Twist: msgs.Twist{
			Linear: msgs.Vector3{
				X: v.LinearX.value(axes),
				Y: v.LinearY.value(axes),
				Z: v.LinearZ.value(axes),
			},
			Angular: msgs.Vector3{Z: v.AngularZ.value(axes)},
		},
	}
}
