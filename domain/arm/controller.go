// Package arm owns the motor arming lifecycle of the vehicle: arm once at
// startup, disarm exactly once at shutdown.
package arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// Arming errors
var (
	ErrServiceUnavailable = errors.New("arming service unavailable")
	ErrArmRejected        = errors.New("arm request failed")
	ErrDisarmFailed       = errors.New("disarm request failed")
	ErrAlreadyUsed        = errors.New("arm already attempted")
)

// State is the motor arming state
type State int

const (
	Disarmed State = iota
	Armed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "ARMED"
	default:
		return "DISARMED"
	}
}

// MarshalText lets State appear by name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Service is the arming service on the vehicle.
type Service interface {
	WaitForService(ctx context.Context) error
	SetArmed(ctx context.Context, enable bool) error
}

// Options bounds the blocking calls. A zero ServiceTimeout waits for the
// service until the caller's context ends.
type Options struct {
	ServiceTimeout time.Duration
	RequestTimeout time.Duration
	DisarmTimeout  time.Duration
}

// Controller arms the vehicle once and guarantees a single disarm attempt.
type Controller struct {
	svc    Service
	opts   Options
	logger customlog.Logger

	mu        sync.RWMutex
	state     State
	attempted bool
	requested bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Controller in the Disarmed state.
func New(svc Service, opts Options, logger customlog.Logger) *Controller {
	return &Controller{
		svc:    svc,
		opts:   opts,
		logger: logger,
		state:  Disarmed,
	}
}

// State returns the current arming state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Arm waits for the arming service and requests arming. It may be called
// once per Controller; any error is fatal to startup.
func (c *Controller) Arm(ctx context.Context) error {
	c.mu.Lock()
	if c.attempted {
		c.mu.Unlock()
		return ErrAlreadyUsed
	}
	c.attempted = true
	c.mu.Unlock()

	c.logger.Infof("Waiting for arming service")

	waitCtx := ctx
	if c.opts.ServiceTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.ServiceTimeout)
		defer cancel()
	}
	if err := c.svc.WaitForService(waitCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	c.mu.Lock()
	c.requested = true
	c.mu.Unlock()

	reqCtx, cancel := withTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	if err := c.svc.SetArmed(reqCtx, true); err != nil {
		return fmt.Errorf("%w: %w", ErrArmRejected, err)
	}

	c.mu.Lock()
	c.state = Armed
	c.mu.Unlock()

	c.logger.Infof("Vehicle armed")
	return nil
}

// Shutdown disarms the vehicle. Only the first call does any work; later
// calls return its result. A failed disarm is not retried and leaves the
// state Armed. If no arm request was ever sent there is nothing to undo.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.disarm(ctx)
	})
	return c.shutdownErr
}

func (c *Controller) disarm(ctx context.Context) error {
	c.mu.RLock()
	requested := c.requested
	c.mu.RUnlock()

	if !requested {
		c.logger.Debugf("No arm request was sent, skipping disarm")
		return nil
	}

	c.logger.Infof("Disarming vehicle")

	// The parent context may already be cancelled by the shutdown signal
	disarmCtx, cancel := withTimeout(context.WithoutCancel(ctx), c.opts.DisarmTimeout)
	defer cancel()

	if err := c.svc.SetArmed(disarmCtx, false); err != nil {
		c.logger.Errorf("Disarm failed, vehicle may still be armed: %v", err)
		return fmt.Errorf("%w: %w", ErrDisarmFailed, err)
	}

	c.mu.Lock()
	c.state = Disarmed
	c.mu.Unlock()

	c.logger.Infof("Vehicle disarmed")
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
