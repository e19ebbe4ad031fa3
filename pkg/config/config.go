package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Topic directions, seen from the controller.
const (
	DirectionInbound  = "INBOUND"  // vehicle bridge -> controller
	DirectionOutbound = "OUTBOUND" // controller -> vehicle bridge
)

// Topic IDs the controller resolves through TopicMappings.
const (
	TopicJoystick      = "joystick"
	TopicBattery       = "battery"
	TopicRCIn          = "rc_in"
	TopicRCOut         = "rc_out"
	TopicOverride      = "rc_override"
	TopicVelocity      = "velocity_setpoint"
	TopicThrusterInput = "thruster_input" // Topic is a template with one %d
)

// Config represents the operational vehicle configuration
type Config struct {
	Version          string         `yaml:"version" json:"version"`
	ConfigID         string         `yaml:"config_id" json:"config_id"`
	LastUpdated      string         `yaml:"lastUpdated" json:"lastUpdated"`
	VehicleID        string         `yaml:"vehicle_id" json:"vehicle_id"`
	Control          ControlConfig  `yaml:"control" json:"control"`
	Arming           ArmingConfig   `yaml:"arming" json:"arming"`
	Teleop           TeleopConfig   `yaml:"teleop" json:"teleop"`
	Thrusters        ThrusterConfig `yaml:"thrusters" json:"thrusters"`
	VelocitySetpoint VelocityConfig `yaml:"velocity_setpoint" json:"velocity_setpoint"`
	Video            VideoConfig    `yaml:"video" json:"video"`
	TopicMappings    []TopicMapping `yaml:"topic_mappings" json:"topic_mappings"`
	Defaults         DefaultsConfig `yaml:"defaults" json:"defaults"`
}

// ControlConfig holds control loop settings
type ControlConfig struct {
	PeriodMs      int `yaml:"period_ms" json:"period_ms"`
	ThrusterCount int `yaml:"thruster_count" json:"thruster_count"`
}

// ArmingConfig bounds the blocking arming calls. A zero ServiceTimeoutMs
// waits for the arming service forever.
type ArmingConfig struct {
	ServiceTimeoutMs int `yaml:"service_timeout_ms" json:"service_timeout_ms"`
	RequestTimeoutMs int `yaml:"request_timeout_ms" json:"request_timeout_ms"`
	DisarmTimeoutMs  int `yaml:"disarm_timeout_ms" json:"disarm_timeout_ms"`
	ProbeIntervalMs  int `yaml:"probe_interval_ms" json:"probe_interval_ms"`
}

// TeleopConfig holds the joystick to rc override mapping
type TeleopConfig struct {
	AxisGain float64 `yaml:"axis_gain" json:"axis_gain"`
	Neutral  int     `yaml:"neutral" json:"neutral"`
}

// CalibrationPoint is one (pwm, thrust) sample of a thruster response table
type CalibrationPoint struct {
	PWM    int     `yaml:"pwm" json:"pwm"`
	Thrust float64 `yaml:"thrust" json:"thrust"`
}

// ThrusterConfig holds the pwm to thrust calibration
type ThrusterConfig struct {
	Neutral     int                `yaml:"neutral" json:"neutral"`
	MinPWM      int                `yaml:"min_pwm" json:"min_pwm"`
	MaxPWM      int                `yaml:"max_pwm" json:"max_pwm"`
	ForwardGain float64            `yaml:"forward_gain" json:"forward_gain"`
	ReverseGain float64            `yaml:"reverse_gain" json:"reverse_gain"`
	Deadband    int                `yaml:"deadband" json:"deadband"`
	Table       []CalibrationPoint `yaml:"table,omitempty" json:"table,omitempty"`
}

// AxisBinding maps one joystick axis onto a velocity component.
// A zero Scale leaves the component unbound.
type AxisBinding struct {
	Axis  int     `yaml:"axis" json:"axis"`
	Scale float64 `yaml:"scale" json:"scale"`
}

// VelocityConfig controls the optional velocity setpoint output
type VelocityConfig struct {
	Enabled  bool        `yaml:"enabled" json:"enabled"`
	FrameID  string      `yaml:"frame_id" json:"frame_id"`
	LinearX  AxisBinding `yaml:"linear_x" json:"linear_x"`
	LinearY  AxisBinding `yaml:"linear_y" json:"linear_y"`
	LinearZ  AxisBinding `yaml:"linear_z" json:"linear_z"`
	AngularZ AxisBinding `yaml:"angular_z" json:"angular_z"`
}

// VideoConfig holds video receive and display settings
type VideoConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	PortParam      string `yaml:"port_param" json:"port_param"`
	DefaultUDPPort int    `yaml:"default_udp_port" json:"default_udp_port"`
	DisplayWidth   int    `yaml:"display_width" json:"display_width"`
	JPEGQuality    int    `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// TopicMapping maps a controller topic ID onto a wire topic
type TopicMapping struct {
	TopicID     string `yaml:"topic_id" json:"topic_id"`
	RosTopic    string `yaml:"ros_topic" json:"ros_topic"`
	OttTopic    string `yaml:"ott" json:"ott"`
	MessageType string `yaml:"message_type" json:"message_type"`
	Direction   string `yaml:"direction" json:"direction"`
}

// DefaultsConfig holds default values for topic mappings
type DefaultsConfig struct {
	Direction string `yaml:"direction" json:"direction"`
}

// Default returns the configuration of a BlueROV2 with six thrusters.
func Default() *Config {
	return &Config{
		Version:   "1.0",
		ConfigID:  "bluerov2-default",
		VehicleID: "bluerov2",
		Control: ControlConfig{
			PeriodMs:      100,
			ThrusterCount: 6,
		},
		Arming: ArmingConfig{
			ServiceTimeoutMs: 30000,
			RequestTimeoutMs: 5000,
			DisarmTimeoutMs:  2000,
			ProbeIntervalMs:  500,
		},
		Teleop: TeleopConfig{
			AxisGain: 400,
			Neutral:  1500,
		},
		Thrusters: ThrusterConfig{
			Neutral:     1500,
			MinPWM:      1100,
			MaxPWM:      1900,
			ForwardGain: 1.0 / 400,
			ReverseGain: 1.0 / 400,
		},
		VelocitySetpoint: VelocityConfig{
			FrameID: "base_link",
		},
		Video: VideoConfig{
			Enabled:        true,
			PortParam:      "/user_node/video_udp_port",
			DefaultUDPPort: 5600,
			DisplayWidth:   640,
			JPEGQuality:    80,
		},
		TopicMappings: DefaultTopicMappings(),
		Defaults: DefaultsConfig{
			Direction: DirectionInbound,
		},
	}
}

// DefaultTopicMappings mirrors the mavros topics of a BlueROV2 companion.
func DefaultTopicMappings() []TopicMapping {
	return []TopicMapping{
		{TopicID: TopicJoystick, RosTopic: "/joy", OttTopic: "joy", MessageType: "sensor_msgs/Joy", Direction: DirectionInbound},
		{TopicID: TopicBattery, RosTopic: "/mavros/battery", OttTopic: "mavros.battery", MessageType: "sensor_msgs/BatteryState", Direction: DirectionInbound},
		{TopicID: TopicRCIn, RosTopic: "/mavros/rc/in", OttTopic: "mavros.rc.in", MessageType: "mavros_msgs/RCIn", Direction: DirectionInbound},
		{TopicID: TopicRCOut, RosTopic: "/mavros/rc/out", OttTopic: "mavros.rc.out", MessageType: "mavros_msgs/RCOut", Direction: DirectionInbound},
		{TopicID: TopicOverride, RosTopic: "/mavros/rc/override", OttTopic: "mavros.rc.override", MessageType: "mavros_msgs/OverrideRCIn", Direction: DirectionOutbound},
		{TopicID: TopicVelocity, RosTopic: "/mavros/setpoint_velocity/cmd_vel", OttTopic: "mavros.setpoint_velocity.cmd_vel", MessageType: "geometry_msgs/TwistStamped", Direction: DirectionOutbound},
		{TopicID: TopicThrusterInput, RosTopic: "/bluerov2/thrusters/%d/input", OttTopic: "bluerov2.thrusters.%d.input", MessageType: "uuv_gazebo_ros_plugins_msgs/FloatStamped", Direction: DirectionOutbound},
	}
}

// LoadConfig loads configuration from the specified file path on top of
// Default() and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes on top of Default() and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Override values the vehicle accepts for a driven channel.
const (
	OverrideMinPWM = 1100
	OverrideMaxPWM = 2000
)

// Validate checks the fields the controller cannot run without.
func (c *Config) Validate() error {
	if c.Control.PeriodMs <= 0 {
		return fmt.Errorf("invalid config: control.period_ms must be positive, got %d", c.Control.PeriodMs)
	}
	if c.Control.ThrusterCount <= 0 {
		return fmt.Errorf("invalid config: control.thruster_count must be positive, got %d", c.Control.ThrusterCount)
	}
	if c.Arming.ServiceTimeoutMs < 0 || c.Arming.RequestTimeoutMs <= 0 || c.Arming.DisarmTimeoutMs <= 0 {
		return fmt.Errorf("invalid config: arming timeouts must be positive (service_timeout_ms may be 0)")
	}
	if c.Teleop.AxisGain <= 0 {
		return fmt.Errorf("invalid config: teleop.axis_gain must be positive, got %v", c.Teleop.AxisGain)
	}
	if lo, hi := float64(c.Teleop.Neutral)-c.Teleop.AxisGain, float64(c.Teleop.Neutral)+c.Teleop.AxisGain; lo < OverrideMinPWM || hi > OverrideMaxPWM {
		return fmt.Errorf("invalid config: teleop neutral %d ± axis_gain %v spans [%v, %v], outside the override range [%d, %d]",
			c.Teleop.Neutral, c.Teleop.AxisGain, lo, hi, OverrideMinPWM, OverrideMaxPWM)
	}
	for _, id := range []string{TopicJoystick, TopicBattery, TopicRCIn, TopicRCOut, TopicOverride, TopicThrusterInput} {
		if _, ok := c.GetTopicMappingByID(id); !ok {
			return fmt.Errorf("invalid config: missing topic mapping for '%s'", id)
		}
	}
	if m, _ := c.GetTopicMappingByID(TopicThrusterInput); strings.Count(m.OttTopic, "%d") != 1 {
		return fmt.Errorf("invalid config: thruster_input topic '%s' must contain exactly one %%d", m.OttTopic)
	}
	return nil
}

// Period returns the control loop period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Control.PeriodMs) * time.Millisecond
}

// GetTopicMappingsByDirection returns topic mappings filtered by direction
func (c *Config) GetTopicMappingsByDirection(direction string) []TopicMapping {
	var result []TopicMapping

	for _, mapping := range c.TopicMappings {
		mappingWithDefaults := applyDefaults(mapping, c.Defaults)
		if mappingWithDefaults.Direction == direction {
			result = append(result, mappingWithDefaults)
		}
	}

	return result
}

// GetTopicMappingByID returns the mapping for a controller topic ID
func (c *Config) GetTopicMappingByID(topicID string) (TopicMapping, bool) {
	for _, mapping := range c.TopicMappings {
		if mapping.TopicID == topicID {
			return applyDefaults(mapping, c.Defaults), true
		}
	}
	return TopicMapping{}, false
}

// GetTopicMappingByOttTopic returns a topic mapping for a specific wire topic
func (c *Config) GetTopicMappingByOttTopic(ottTopic string) (TopicMapping, bool) {
	for _, mapping := range c.TopicMappings {
		if mapping.OttTopic == ottTopic {
			return applyDefaults(mapping, c.Defaults), true
		}
	}
	return TopicMapping{}, false
}

// Topic resolves a topic ID to its wire topic, or "" when unmapped.
func (c *Config) Topic(topicID string) string {
	mapping, ok := c.GetTopicMappingByID(topicID)
	if !ok {
		return ""
	}
	return mapping.OttTopic
}

// ThrusterTopic returns the wire topic of thruster index i.
func (c *Config) ThrusterTopic(i int) string {
	template := c.Topic(TopicThrusterInput)
	if template == "" {
		return ""
	}
	return fmt.Sprintf(template, i)
}

// applyDefaults merges default values into a topic mapping where fields are empty
func applyDefaults(mapping TopicMapping, defaults DefaultsConfig) TopicMapping {
	result := mapping
	if result.Direction == "" {
		result.Direction = defaults.Direction
	}
	return result
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
