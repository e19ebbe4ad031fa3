// Package msgs defines the message payloads exchanged with the vehicle
// bridge. Field names follow the ROS/mavros definitions they mirror; payloads
// travel as JSON inside the OttMessage envelope.
package msgs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message type names as they appear in topic mappings.
const (
	TypeJoy          = "sensor_msgs/Joy"
	TypeBatteryState = "sensor_msgs/BatteryState"
	TypeRCIn         = "mavros_msgs/RCIn"
	TypeRCOut        = "mavros_msgs/RCOut"
	TypeOverrideRCIn = "mavros_msgs/OverrideRCIn"
	TypeTwistStamped = "geometry_msgs/TwistStamped"
	TypeFloatStamped = "uuv_gazebo_ros_plugins_msgs/FloatStamped"
)

// ErrUnknownType is returned by Decode for unregistered message types.
var ErrUnknownType = errors.New("unknown message type")

// Header carries the stamp and frame of a message.
type Header struct {
	Seq     uint32    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// NewHeader stamps a header with now.
func NewHeader(frameID string) Header {
	return Header{Stamp: time.Now(), FrameID: frameID}
}

// Joy is a joystick snapshot.
type Joy struct {
	Header  Header    `json:"header"`
	Axes    []float64 `json:"axes"`
	Buttons []int32   `json:"buttons"`
}

// BatteryState is the subset of the battery message the controller reads.
type BatteryState struct {
	Header     Header  `json:"header"`
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	Percentage float64 `json:"percentage"`
}

// RCIn holds the radio input channels seen by the autopilot.
type RCIn struct {
	Header   Header   `json:"header"`
	RSSI     uint8    `json:"rssi"`
	Channels []uint16 `json:"channels"`
}

// RCOut holds the servo output channels, one per thruster first.
type RCOut struct {
	Header   Header   `json:"header"`
	Channels []uint16 `json:"channels"`
}

// OverrideRCIn overrides the first eight rc channels. 0 leaves a channel alone.
type OverrideRCIn struct {
	Channels [8]uint16 `json:"channels"`
}

// Vector3 defines a standard 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist matches geometry_msgs/Twist.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// TwistStamped is a velocity setpoint.
type TwistStamped struct {
	Header Header `json:"header"`
	Twist  Twist  `json:"twist"`
}

// FloatStamped is the per-thruster input of the simulator plugin.
type FloatStamped struct {
	Header Header  `json:"header"`
	Data   float64 `json:"data"`
}

// Decode unmarshals a JSON payload into the Go type registered for messageType.
// The returned value is a struct, not a pointer.
func Decode(messageType string, payload []byte) (interface{}, error) {
	switch messageType {
	case TypeJoy:
		return decodeAs[Joy](messageType, payload)
	case TypeBatteryState:
		return decodeAs[BatteryState](messageType, payload)
	case TypeRCIn:
		return decodeAs[RCIn](messageType, payload)
	case TypeRCOut:
		return decodeAs[RCOut](messageType, payload)
	case TypeOverrideRCIn:
		return decodeAs[OverrideRCIn](messageType, payload)
	case TypeTwistStamped:
		return decodeAs[TwistStamped](messageType, payload)
	case TypeFloatStamped:
		return decodeAs[FloatStamped](messageType, payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, messageType)
	}
}

func decodeAs[T any](messageType string, payload []byte) (interface{}, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", messageType, err)
	}
	return v, nil
}
