package zeromq

import (
	"encoding/json"
	"fmt"

	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// ConfigHandler handles CONFIG_REQUEST messages
type ConfigHandler struct {
	config *config.Config
	logger customlog.Logger
}

// NewConfigHandler creates a new handler for configuration requests
func NewConfigHandler(cfg *config.Config, logger customlog.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		logger: logger,
	}
}

// HandleMessage processes a CONFIG_REQUEST message and returns a CONFIG_RESPONSE
func (h *ConfigHandler) HandleMessage(data []byte) ([]byte, error) {
	if err := expectType(data, MsgTypeConfigRequest); err != nil {
		return nil, err
	}

	h.logger.Debugf("Processing configuration request")

	responseData, err := json.Marshal(newMessage(MsgTypeConfigResponse, h.config))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	h.logger.Debugf("Sending configuration response (%d bytes)", len(responseData))
	return responseData, nil
}

// StatusProvider returns a JSON-serializable view of the controller state.
type StatusProvider func() interface{}

// StatusHandler handles STATUS_REQUEST messages
type StatusHandler struct {
	status StatusProvider
	logger customlog.Logger
}

// NewStatusHandler creates a new handler for status requests
func NewStatusHandler(status StatusProvider, logger customlog.Logger) *StatusHandler {
	return &StatusHandler{
		status: status,
		logger: logger,
	}
}

// HandleMessage processes a STATUS_REQUEST message and returns a STATUS_RESPONSE
func (h *StatusHandler) HandleMessage(data []byte) ([]byte, error) {
	if err := expectType(data, MsgTypeStatusRequest); err != nil {
		return nil, err
	}

	responseData, err := json.Marshal(newMessage(MsgTypeStatusResponse, h.status()))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return responseData, nil
}

// RegisterStatusHandlers wires CONFIG_REQUEST and STATUS_REQUEST into service.
func RegisterStatusHandlers(service *ZeroMQService, cfg *config.Config, status StatusProvider, logger customlog.Logger) {
	service.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(cfg, logger))
	service.RegisterHandler(MsgTypeStatusRequest, NewStatusHandler(status, logger))
	logger.Infof("Registered configuration and status handlers")
}

func expectType(data []byte, messageType string) error {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != messageType {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnknownMessageType, messageType, msg.Type)
	}
	return nil
}
