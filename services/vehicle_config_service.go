package services

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// ErrInvalidConfig is returned by UpdateConfig when the new YAML does not
// parse or validate.
var ErrInvalidConfig = errors.New("invalid vehicle configuration")

// ConfigPublisher announces that the persisted configuration changed.
type ConfigPublisher interface {
	PublishConfigUpdated(configID, version string) error
}

// VehicleConfigService manages the operational vehicle configuration file.
// Updates are persisted and announced; the running controller keeps the
// configuration it started with.
type VehicleConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	SetPublisher(p ConfigPublisher)
}

type vehicleConfigService struct {
	path            string
	logger          customlog.Logger
	configPublisher ConfigPublisher
	currentConfig   *config.Config
	mu              sync.RWMutex
}

// NewVehicleConfigService loads the configuration at path. A missing or
// invalid file is an error since the controller cannot run without it.
func NewVehicleConfigService(path string, logger customlog.Logger) (VehicleConfigService, error) {
	if path == "" {
		return nil, fmt.Errorf("vehicle configuration path cannot be empty")
	}

	service := &vehicleConfigService{
		path:   path,
		logger: logger,
	}
	if err := service.LoadConfig(); err != nil {
		return nil, err
	}
	return service, nil
}

// LoadConfig reads and validates the configuration file.
func (s *vehicleConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading vehicle configuration from: %s", s.path)
	cfg, err := config.LoadConfig(s.path)
	if err != nil {
		return fmt.Errorf("error loading vehicle config '%s': %w", s.path, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded vehicle configuration ID: %s, Version: %s, Vehicle: %s", cfg.ConfigID, cfg.Version, cfg.VehicleID)
	return nil
}

// GetCurrentConfig returns the loaded configuration. Callers must not modify it.
func (s *vehicleConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML returns the raw file content.
func (s *vehicleConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("error reading vehicle config file '%s': %w", s.path, err)
	}
	return data, nil
}

// UpdateConfig validates newConfigYAML, writes it to disk and announces it.
// A configuration that fails validation is never persisted.
func (s *vehicleConfigService) UpdateConfig(newConfigYAML []byte) error {
	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if newCfg.ConfigID == "" || newCfg.Version == "" || newCfg.VehicleID == "" {
		return fmt.Errorf("%w: missing required fields (config_id, version, vehicle_id)", ErrInvalidConfig)
	}

	s.mu.Lock()
	if err := os.WriteFile(s.path, newConfigYAML, 0644); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error writing vehicle config file '%s': %w", s.path, err)
	}
	oldID := "N/A"
	if s.currentConfig != nil {
		oldID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	publisher := s.configPublisher
	s.mu.Unlock()

	s.logger.Infof("Persisted vehicle configuration. ID %s -> %s, Version: %s", oldID, newCfg.ConfigID, newCfg.Version)

	if publisher == nil {
		return nil
	}
	if err := publisher.PublishConfigUpdated(newCfg.ConfigID, newCfg.Version); err != nil {
		s.logger.Warnf("Failed to publish config update notification: %v", err)
	}
	return nil
}

// SetPublisher injects the update notifier after construction.
func (s *vehicleConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
}
