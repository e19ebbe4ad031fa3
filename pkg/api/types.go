package api

import (
	"github.com/open-teleop/rov-controller/domain/arm"
	"github.com/open-teleop/rov-controller/domain/control"
	"github.com/open-teleop/rov-controller/domain/video"
	"github.com/open-teleop/rov-controller/pkg/processing"
	"github.com/open-teleop/rov-controller/pkg/zeromq"
)

// --- Data Structures for WebSocket Messages ---

// JoystickCommand is one joystick sample sent by an operator console.
// Axes are in [-1, 1].
type JoystickCommand struct {
	Axes    []float64 `json:"axes"`
	Buttons []int32   `json:"buttons,omitempty"`
}

// --- Status ---

// Status is the controller state served on /api/status and in STATUS_RESPONSE.
type Status struct {
	VehicleID  string                            `json:"vehicle_id"`
	ArmState   arm.State                         `json:"arm_state"`
	Uptime     string                            `json:"uptime"`
	Loop       control.Stats                     `json:"loop"`
	Pools      map[string]processing.PoolMetrics `json:"pools"`
	Topics     map[string]processing.TopicInfo   `json:"topics"`
	StreamAge  map[string]string                 `json:"stream_age"`
	Subscriber zeromq.SubscriberStats            `json:"subscriber"`
	Video      *video.SourceStats                `json:"video,omitempty"`
}
