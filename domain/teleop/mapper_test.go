package teleop

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/open-teleop/rov-controller/pkg/config"
)

func TestMapAxes(t *testing.T) {
	tests := []struct {
		name string
		axes []float64
		want [OverrideChannels]uint16
	}{
		{
			name: "six axes",
			axes: []float64{0.5, -0.5, 0, 0, 0, 0},
			want: [8]uint16{1700, 1300, 1500, 1500, 1500, 1500, 0, 0},
		},
		{
			name: "no axes",
			axes: nil,
			want: [8]uint16{},
		},
		{
			name: "full deflection",
			axes: []float64{1, -1},
			want: [8]uint16{1900, 1100, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "rounds half away from zero",
			axes: []float64{0.03125, -0.03125, 0.001},
			want: [8]uint16{1513, 1488, 1500, 0, 0, 0, 0, 0},
		},
		{
			name: "exactly eight",
			axes: []float64{0, 0.25, 0.5, 0.75, 1, -0.25, -0.5, -0.75},
			want: [8]uint16{1500, 1600, 1700, 1800, 1900, 1400, 1300, 1200},
		},
		{
			name: "truncates past eight",
			axes: []float64{0, 0, 0, 0, 0, 0, 0, 0.1, 1, 1},
			want: [8]uint16{1500, 1500, 1500, 1500, 1500, 1500, 1500, 1540},
		},
		{
			name: "clamps and centres NaN",
			axes: []float64{1.7, -3, math.NaN()},
			want: [8]uint16{1900, 1100, 1500, 0, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, MapAxes(tt.axes)); diff != "" {
				t.Errorf("MapAxes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapAxesProperty(t *testing.T) {
	for n := 0; n <= OverrideChannels; n++ {
		axes := make([]float64, n)
		for i := range axes {
			axes[i] = float64(i)/4 - 1
		}
		got := MapAxes(axes)
		for i := 0; i < OverrideChannels; i++ {
			want := uint16(0)
			if i < n {
				want = uint16(math.Round(axes[i]*400 + 1500))
			}
			if got[i] != want {
				t.Errorf("len=%d channel %d: expected %d, got %d", n, i, want, got[i])
			}
		}
	}
}

func TestTruncated(t *testing.T) {
	if Truncated(make([]float64, 8)) {
		t.Errorf("Expected 8 axes not to be truncated")
	}
	if !Truncated(make([]float64, 9)) {
		t.Errorf("Expected 9 axes to be truncated")
	}
}

func TestCustomMapper(t *testing.T) {
	m := Mapper{Gain: 200, Neutral: 1500}
	got := m.Override([]float64{1, -1}).Channels
	if got[0] != 1700 || got[1] != 1300 || got[2] != NoOverride {
		t.Errorf("Expected [1700 1300 0 ...], got %v", got)
	}
}

func TestVelocitySetpoint(t *testing.T) {
	v := NewVelocityMapping(config.VelocityConfig{
		Enabled:  true,
		FrameID:  "base_link",
		LinearX:  config.AxisBinding{Axis: 1, Scale: 0.5},
		LinearZ:  config.AxisBinding{Axis: 9, Scale: 1},
		AngularZ: config.AxisBinding{Axis: 0, Scale: -1},
	})

	sp := v.Setpoint([]float64{0.4, 2, 0})
	if sp.Header.FrameID != "base_link" {
		t.Errorf("Expected frame base_link, got %s", sp.Header.FrameID)
	}
	if sp.Twist.Linear.X != 0.5 {
		t.Errorf("Expected clamped linear.x 0.5, got %v", sp.Twist.Linear.X)
	}
	if sp.Twist.Linear.Y != 0 || sp.Twist.Linear.Z != 0 {
		t.Errorf("Expected unbound and missing axes to give 0, got %+v", sp.Twist.Linear)
	}
	if sp.Twist.Angular.Z != -0.4 {
		t.Errorf("Expected angular.z -0.4, got %v", sp.Twist.Angular.Z)
	}
}
