package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/rov-controller/pkg/config"
	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/pebbe/zmq4"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message types
const (
	MsgTypeConfigRequest  = "CONFIG_REQUEST"
	MsgTypeConfigResponse = "CONFIG_RESPONSE"
	MsgTypeStatusRequest  = "STATUS_REQUEST"
	MsgTypeStatusResponse = "STATUS_RESPONSE"
	MsgTypeServiceProbe   = "SERVICE_PROBE"
	MsgTypeServiceReady   = "SERVICE_READY"
	MsgTypeArmRequest     = "ARM_REQUEST"
	MsgTypeArmResponse    = "ARM_RESPONSE"
	MsgTypeConfigUpdated  = "CONFIG_UPDATED"
	MsgTypeError          = "ERROR"
)

// pollInterval bounds how long a receive loop waits before rechecking whether
// it should stop.
const pollInterval = 250 * time.Millisecond

// ZeroMQMessage represents a generic message structure for ZeroMQ communication
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// newMessage stamps a ZeroMQMessage with the current time.
func newMessage(messageType string, data interface{}) ZeroMQMessage {
	return ZeroMQMessage{
		Type:      messageType,
		Timestamp: float64(time.Now().Unix()),
		Data:      data,
	}
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data []byte) ([]byte, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data []byte) ([]byte, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data []byte) ([]byte, error) {
	return f(data)
}

// MessageReceiver answers requests arriving on a REP socket.
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	logger     customlog.Logger
	address    string
	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
}

// newMessageReceiver creates a new MessageReceiver bound to address.
func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	// Send timeout keeps a vanished requester from wedging the loop.
	if err := socket.SetSndtimeo(time.Second); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver initialized on %s", address)

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		logger:     logger,
		address:    address,
	}, nil
}

// Start begins the message receiving loop
func (r *MessageReceiver) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	r.wg.Add(1)
	go r.receiveLoop()
}

func (r *MessageReceiver) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// receiveLoop owns the socket and closes it on exit.
func (r *MessageReceiver) receiveLoop() {
	defer r.wg.Done()
	defer r.socket.Close()

	r.logger.Infof("MessageReceiver started")

	for r.isRunning() {
		sockets, err := r.poller.Poll(pollInterval)
		if err != nil {
			r.logger.Errorf("Error polling socket: %v", err)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		msg, err := r.socket.RecvBytes(0)
		if err != nil {
			r.logger.Errorf("Error receiving message: %v", err)
			continue
		}

		r.logger.Debugf("Received request (%d bytes)", len(msg))

		response, err := r.dispatcher.Dispatch(msg)
		if err != nil {
			r.logger.Warnf("Error dispatching message: %v", err)

			code := 500
			if errors.Is(err, ErrUnknownMessageType) || errors.Is(err, ErrInvalidMessage) {
				code = 400
			}
			response, _ = json.Marshal(newMessage(MsgTypeError, ErrorResponse{
				Message: err.Error(),
				Code:    code,
			}))
		}

		if _, err := r.socket.SendBytes(response, 0); err != nil {
			r.logger.Errorf("Error sending response: %v", err)
		}
	}

	r.logger.Infof("MessageReceiver stopped")
}

// Stop halts the receiving loop and waits for it to release the socket.
func (r *MessageReceiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.socket.Close()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

// MessageSender handles sending messages to ZeroMQ sockets
type MessageSender struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

// newMessageSender creates a PUB socket bound to address.
func newMessageSender(ctx *zmq4.Context, address string, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	logger.Infof("MessageSender initialized on %s", address)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	// Topic frame first so subscribers can filter on it
	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}

	if _, err := s.socket.SendBytes(data, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// MessageDispatcher routes messages to the appropriate handlers
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// Dispatch parses a JSON request and hands it to the handler registered for its type.
func (d *MessageDispatcher) Dispatch(data []byte) ([]byte, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	d.mu.RLock()
	handler, exists := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}

	d.logger.Debugf("Dispatching message of type: %s", msg.Type)
	return handler.HandleMessage(data)
}

// ZeroMQService coordinates ZeroMQ communications for the controller: a PUB
// socket toward the vehicle bridge, a SUB socket for its telemetry and an
// optional REP socket answering status requests.
type ZeroMQService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	subscriber *Subscriber
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	mu         sync.RWMutex
	running    bool
}

// NewZeroMQService creates the sockets described by the bootstrap config.
// Inbound envelopes are handed to router.
func NewZeroMQService(cfg config.ZeroMQBootstrap, topics []string, router MessageRouter, logger customlog.Logger) (*ZeroMQService, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	return newZeroMQService(ctx, cfg, topics, router, logger)
}

func newZeroMQService(ctx *zmq4.Context, cfg config.ZeroMQBootstrap, topics []string, router MessageRouter, logger customlog.Logger) (*ZeroMQService, error) {
	dispatcher := NewMessageDispatcher(logger)

	sender, err := newMessageSender(ctx, cfg.PublishBindAddress, logger)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	subscriber, err := newSubscriber(ctx, cfg.SubscribeConnectAddress, topics, router, logger)
	if err != nil {
		sender.Close()
		ctx.Term()
		return nil, err
	}

	var receiver *MessageReceiver
	if cfg.StatusBindAddress != "" {
		receiver, err = newMessageReceiver(ctx, cfg.StatusBindAddress, dispatcher, logger)
		if err != nil {
			subscriber.Stop()
			sender.Close()
			ctx.Term()
			return nil, err
		}
	}

	return &ZeroMQService{
		ctx:        ctx,
		receiver:   receiver,
		sender:     sender,
		subscriber: subscriber,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Context returns the ZeroMQ context so other clients can share it.
func (s *ZeroMQService) Context() *zmq4.Context {
	return s.ctx
}

// RegisterHandler adds a handler for a specific message type
func (s *ZeroMQService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *ZeroMQService) RegisterHandlerFunc(messageType string, handler func([]byte) ([]byte, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// Start begins the ZeroMQ service
func (s *ZeroMQService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.running = true
	s.logger.Infof("Starting ZeroMQ service")

	s.subscriber.Start()
	if s.receiver != nil {
		s.receiver.Start()
	}

	return nil
}

// Stop closes every socket and terminates the context. Sockets owned by other
// clients of Context must be closed first.
func (s *ZeroMQService) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Infof("Stopping ZeroMQ service")

	s.subscriber.Stop()
	if s.receiver != nil {
		s.receiver.Stop()
	}
	s.sender.Close()

	if err := s.ctx.Term(); err != nil {
		s.logger.Warnf("Error terminating ZMQ context: %v", err)
	}

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()

	s.logger.Infof("ZeroMQ service stopped")
}

// PublishMessage sends a message with the given topic
func (s *ZeroMQService) PublishMessage(topic string, data []byte) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		return ErrServiceClosed
	}
	return s.sender.PublishMessage(topic, data)
}

// PublishJSON marshals data and publishes it inside an OttMessage envelope.
func (s *ZeroMQService) PublishJSON(topic string, contentType message.ContentType, data interface{}) error {
	envelope, err := EncodeJSONEnvelope(topic, contentType, data)
	if err != nil {
		return err
	}
	return s.PublishMessage(topic, envelope)
}

// SubscriberStats reports how many envelopes the SUB loop accepted and dropped.
func (s *ZeroMQService) SubscriberStats() SubscriberStats {
	return s.subscriber.Stats()
}

// ConfigUpdatedTopic carries CONFIG_UPDATED notifications.
const ConfigUpdatedTopic = "controller.config.updated"

// PublishConfigUpdated tells subscribers the persisted vehicle configuration
// changed. It takes effect on the next controller start.
func (s *ZeroMQService) PublishConfigUpdated(configID, version string) error {
	return s.PublishJSON(ConfigUpdatedTopic, message.ContentTypeJSON_COMMAND, newMessage(MsgTypeConfigUpdated, map[string]string{
		"config_id": configID,
		"version":   version,
	}))
}
