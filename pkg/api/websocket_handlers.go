package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/msgs"
	"github.com/open-teleop/rov-controller/pkg/processing"
)

// MessageRouter accepts inbound messages for decoding.
type MessageRouter interface {
	RouteMessage(msg *processing.Message) error
}

// JoystickWebSocketHandler reads JSON joystick samples from an operator
// console and routes each one as a Joy command on joystickTopic, the same
// way joystick messages from the bus are handled.
func JoystickWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, router MessageRouter, joystickTopic string) {
	logger.Infof("Joystick WebSocket connected: %s", conn.RemoteAddr())
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("Joystick WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Infof("Joystick WS connection closed: %v", err)
			}
			break
		}

		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Joystick WS message type: %d", mt)
			continue
		}

		msg, err := joystickMessage(joystickTopic, raw, time.Now())
		if err != nil {
			logger.Warnf("Discarding joystick command: %v", err)
			continue
		}

		if err := router.RouteMessage(msg); err != nil {
			logger.Errorf("Failed to route joystick command: %v", err)
		}
	}
	logger.Infof("Joystick WebSocket disconnected: %s", conn.RemoteAddr())
}

// joystickMessage converts a websocket JoystickCommand into an inbound Joy
// message stamped with now.
func joystickMessage(topic string, raw []byte, now time.Time) (*processing.Message, error) {
	var cmd JoystickCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("malformed joystick command: %w", err)
	}
	if len(cmd.Axes) == 0 {
		return nil, fmt.Errorf("joystick command has no axes")
	}

	joy := msgs.Joy{
		Header:  msgs.Header{Stamp: now, FrameID: "operator"},
		Axes:    cmd.Axes,
		Buttons: cmd.Buttons,
	}
	payload, err := json.Marshal(joy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode joystick command: %w", err)
	}

	return &processing.Message{
		Topic:       topic,
		ContentType: message.ContentTypeJSON_COMMAND,
		Payload:     payload,
		Timestamp:   now.UnixNano(),
	}, nil
}
