package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the bootstrap file looked up inside the config directory.
const BootstrapFileName = "controller_config.yaml"

// BootstrapConfig holds the initial configuration loaded from controller_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig         `yaml:"logging"`
	Server     BootstrapServerConfig `yaml:"server"`
	ZeroMQ     ZeroMQBootstrap       `yaml:"zeromq"`
	Data       DataConfig            `yaml:"data"`
	Processing ProcessingConfig      `yaml:"processing"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// BootstrapServerConfig holds the operator HTTP API settings.
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ZeroMQBootstrap holds the messaging endpoints.
//
// SubscribeConnectAddress is the vehicle bridge PUB socket we read joystick
// and telemetry topics from. PublishBindAddress is where overrides and
// thruster inputs go out. ArmingServiceAddress is the bridge REP socket for
// arming requests. StatusBindAddress is our own REP socket for ground tools.
type ZeroMQBootstrap struct {
	SubscribeConnectAddress string `yaml:"subscribe_connect_address"`
	PublishBindAddress      string `yaml:"publish_bind_address"`
	ArmingServiceAddress    string `yaml:"arming_service_address"`
	StatusBindAddress       string `yaml:"status_bind_address,omitempty"`
	MessageBufferSize       int    `yaml:"message_buffer_size"`
	ReconnectIntervalMs     int    `yaml:"reconnect_interval_ms"`
}

// ProcessingConfig holds inbound decode worker configuration from bootstrap
type ProcessingConfig struct {
	DecodeWorkers int `yaml:"decode_workers"`
	QueueSize     int `yaml:"queue_size"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory         string `yaml:"directory"`
	VehicleConfigFile string `yaml:"vehicle_config_file"`
	ParamsFile        string `yaml:"params_file,omitempty"`
}

// VehicleConfigPath joins the data directory and the vehicle config file name.
func (d DataConfig) VehicleConfigPath() string {
	return filepath.Join(d.Directory, d.VehicleConfigFile)
}

// ParamsPath returns the params file path, or "" when none is configured.
func (d DataConfig) ParamsPath() string {
	if d.ParamsFile == "" {
		return ""
	}
	return filepath.Join(d.Directory, d.ParamsFile)
}

// LoadBootstrapConfig loads the bootstrap configuration from controller_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.ZeroMQ.SubscribeConnectAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.subscribe_connect_address")
	}
	if bootstrapCfg.ZeroMQ.PublishBindAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.publish_bind_address")
	}
	if bootstrapCfg.ZeroMQ.ArmingServiceAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.arming_service_address")
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.VehicleConfigFile == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.vehicle_config_file")
	}

	if bootstrapCfg.Processing.DecodeWorkers <= 0 {
		bootstrapCfg.Processing.DecodeWorkers = 2
	}
	if bootstrapCfg.Processing.QueueSize <= 0 {
		bootstrapCfg.Processing.QueueSize = 100
	}
	if bootstrapCfg.Server.HTTPPort == 0 {
		bootstrapCfg.Server.HTTPPort = 8080
	}

	return &bootstrapCfg, nil
}
