package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/pebbe/zmq4"
)

// Arming client errors
var (
	ErrRequestTimeout  = errors.New("arming request timed out")
	ErrRequestRejected = errors.New("arming request rejected")
)

// ArmRequest is the data of an ARM_REQUEST message.
type ArmRequest struct {
	Enable    bool   `json:"enable"`
	RequestID string `json:"request_id"`
}

// ArmResult is the data of an ARM_RESPONSE message.
type ArmResult struct {
	Success   bool   `json:"success"`
	Result    int    `json:"result"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
}

// response is a ZeroMQMessage whose data is decoded later.
type response struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ArmingClient talks to the arming service of the vehicle bridge over REQ.
// A REQ socket that misses a reply cannot send again, so it is discarded and
// reopened before the next request.
type ArmingClient struct {
	ctx            *zmq4.Context
	address        string
	requestTimeout time.Duration
	probeInterval  time.Duration
	logger         customlog.Logger

	mu     sync.Mutex
	socket *zmq4.Socket
}

// NewArmingClient creates a client for the arming service at address.
// No socket is opened until the first request.
func NewArmingClient(ctx *zmq4.Context, address string, requestTimeout, probeInterval time.Duration, logger customlog.Logger) *ArmingClient {
	if probeInterval <= 0 {
		probeInterval = 500 * time.Millisecond
	}
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &ArmingClient{
		ctx:            ctx,
		address:        address,
		requestTimeout: requestTimeout,
		probeInterval:  probeInterval,
		logger:         logger,
	}
}

// WaitForService probes the arming service until it answers or ctx ends.
func (c *ArmingClient) WaitForService(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("arming service at %s did not answer after %d probes: %w", c.address, attempt, err)
		}
		attempt++

		resp, err := c.request(ctx, newMessage(MsgTypeServiceProbe, nil), c.probeInterval)
		if err == nil {
			if resp.Type != MsgTypeServiceReady {
				return fmt.Errorf("%w: unexpected probe reply %s", ErrInvalidMessage, resp.Type)
			}
			c.logger.Infof("Arming service at %s is available", c.address)
			return nil
		}
		if !errors.Is(err, ErrRequestTimeout) {
			return err
		}
		c.logger.Debugf("Arming service probe %d unanswered", attempt)
	}
}

// SetArmed asks the vehicle to arm or disarm its motors.
func (c *ArmingClient) SetArmed(ctx context.Context, enable bool) error {
	req := ArmRequest{Enable: enable, RequestID: uuid.NewString()}

	resp, err := c.request(ctx, newMessage(MsgTypeArmRequest, req), c.requestTimeout)
	if err != nil {
		return err
	}
	if resp.Type != MsgTypeArmResponse {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMessage, MsgTypeArmResponse, resp.Type)
	}

	var result ArmResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if result.RequestID != "" && result.RequestID != req.RequestID {
		return fmt.Errorf("%w: reply for request %s, sent %s", ErrInvalidMessage, result.RequestID, req.RequestID)
	}
	if !result.Success {
		return fmt.Errorf("%w: enable=%t result=%d %s", ErrRequestRejected, enable, result.Result, result.Message)
	}

	c.logger.Debugf("Arming request %s (enable=%t) accepted", req.RequestID, enable)
	return nil
}

// Close releases the REQ socket.
func (c *ArmingClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSocket()
}

// request sends msg and waits up to timeout, or until ctx ends, for the reply.
func (c *ArmingClient) request(ctx context.Context, msg ZeroMQMessage, timeout time.Duration) (response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return response{}, fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return response{}, fmt.Errorf("%s: %w", msg.Type, context.DeadlineExceeded)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSocket(); err != nil {
		return response{}, err
	}

	if _, err := c.socket.SendBytes(data, 0); err != nil {
		c.resetSocket()
		return response{}, fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(c.socket, zmq4.POLLIN)
	polled, err := poller.Poll(timeout)
	if err != nil {
		c.resetSocket()
		return response{}, fmt.Errorf("failed to poll for %s reply: %w", msg.Type, err)
	}
	if len(polled) == 0 {
		c.resetSocket()
		return response{}, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, msg.Type, timeout)
	}

	reply, err := c.socket.RecvBytes(0)
	if err != nil {
		c.resetSocket()
		return response{}, fmt.Errorf("failed to receive %s reply: %w", msg.Type, err)
	}

	var resp response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return response{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if resp.Type == MsgTypeError {
		var errResp ErrorResponse
		_ = json.Unmarshal(resp.Data, &errResp)
		return response{}, fmt.Errorf("%w: %s (code %d)", ErrRequestRejected, errResp.Message, errResp.Code)
	}
	return resp, nil
}

func (c *ArmingClient) ensureSocket() error {
	if c.socket != nil {
		return nil
	}

	socket, err := c.ctx.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("failed to create REQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Connect(c.address); err != nil {
		socket.Close()
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	c.socket = socket
	return nil
}

func (c *ArmingClient) resetSocket() {
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
}
