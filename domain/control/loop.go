// Package control runs the fixed-rate teleoperation loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/open-teleop/rov-controller/domain/telemetry"
	"github.com/open-teleop/rov-controller/domain/teleop"
	"github.com/open-teleop/rov-controller/domain/thruster"
	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/msgs"
	"go.uber.org/multierr"
)

var (
	// ErrNoData means a block had nothing to work on this cycle.
	ErrNoData = errors.New("no data")
	// ErrPartialTelemetry means some telemetry streams had no data.
	ErrPartialTelemetry = errors.New("partial telemetry")
	// ErrBlockPanic wraps a panic recovered from a block.
	ErrBlockPanic = errors.New("block panicked")
)

const (
	DefaultPeriod        = 100 * time.Millisecond
	DefaultThrusterCount = 6
)

// Snapshots gives the latest value of each inbound stream.
type Snapshots interface {
	Joystick() (msgs.Joy, bool)
	Battery() (msgs.BatteryState, bool)
	RCIn() (msgs.RCIn, bool)
	RCOut() (msgs.RCOut, bool)
}

// Publisher sends commands to the vehicle.
type Publisher interface {
	PublishOverride(override msgs.OverrideRCIn) error
	PublishVelocity(setpoint msgs.TwistStamped) error
	PublishThrusterInput(index int, thrust float64) error
}

// TelemetrySink receives the telemetry seen each cycle.
type TelemetrySink interface {
	Record(t telemetry.Telemetry)
}

// FrameMonitor shows the next video frame, if any.
type FrameMonitor interface {
	Refresh() error
}

// Block identifies one of the per-cycle steps.
type Block int

const (
	BlockTelemetry Block = iota
	BlockJoystick
	BlockActuator
	BlockVideo
	numBlocks
)

func (b Block) String() string {
	switch b {
	case BlockTelemetry:
		return "telemetry"
	case BlockJoystick:
		return "joystick"
	case BlockActuator:
		return "actuator"
	case BlockVideo:
		return "video"
	default:
		return fmt.Sprintf("block(%d)", int(b))
	}
}

// Options configures a Loop. Zero fields take defaults.
type Options struct {
	Period        time.Duration
	ThrusterCount int
	Mapper        teleop.Mapper
	// Velocity enables the velocity setpoint output when set.
	Velocity    *teleop.VelocityMapping
	Calibration thruster.Calibration
	Clock       clock.Clock
}

// OptionsFromConfig builds loop options from the vehicle configuration and
// rejects an unusable thruster calibration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		Period:        cfg.Period(),
		ThrusterCount: cfg.Control.ThrusterCount,
		Mapper: teleop.Mapper{
			Gain:    cfg.Teleop.AxisGain,
			Neutral: float64(cfg.Teleop.Neutral),
		},
		Calibration: thruster.FromConfig(cfg.Thrusters),
	}
	if cfg.VelocitySetpoint.Enabled {
		velocity := teleop.NewVelocityMapping(cfg.VelocitySetpoint)
		opts.Velocity = &velocity
	}
	if err := opts.Calibration.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid thruster calibration: %w", err)
	}
	return opts, nil
}

func (o *Options) applyDefaults() {
	if o.Period <= 0 {
		o.Period = DefaultPeriod
	}
	if o.ThrusterCount <= 0 {
		o.ThrusterCount = DefaultThrusterCount
	}
	if o.Mapper.Gain == 0 {
		o.Mapper = teleop.DefaultMapper()
	}
	if o.Calibration.MaxPWM == 0 {
		o.Calibration = thruster.DefaultCalibration()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Report holds the outcome of each block of one Step. A nil entry succeeded;
// ErrNoData marks a skipped block.
type Report [numBlocks]error

// Err returns the block failures combined, ignoring skips.
func (r Report) Err() error {
	var err error
	for b, blockErr := range r {
		if blockErr != nil && !errors.Is(blockErr, ErrNoData) {
			err = multierr.Append(err, fmt.Errorf("%s: %w", Block(b), blockErr))
		}
	}
	return err
}

// BlockStats counts the outcomes of one block.
type BlockStats struct {
	OK      int64  `json:"ok"`
	Skipped int64  `json:"skipped"`
	Failed  int64  `json:"failed"`
	LastErr string `json:"last_error,omitempty"`
}

// Stats summarises the loop since it was created.
type Stats struct {
	Iterations int64                 `json:"iterations"`
	Overruns   int64                 `json:"overruns"`
	LastStep   time.Time             `json:"last_step"`
	Blocks     map[string]BlockStats `json:"blocks"`
}

// Loop runs telemetry, joystick, actuator and video handling once per period.
type Loop struct {
	snapshots Snapshots
	publisher Publisher
	sink      TelemetrySink
	video     FrameMonitor
	opts      Options
	logger    customlog.Logger

	mu         sync.RWMutex
	running    bool
	iterations int64
	overruns   int64
	lastStep   time.Time
	blocks     [numBlocks]BlockStats
}

// New creates a loop. sink and video may be nil.
func New(snapshots Snapshots, publisher Publisher, sink TelemetrySink, video FrameMonitor, opts Options, logger customlog.Logger) *Loop {
	opts.applyDefaults()
	return &Loop{
		snapshots: snapshots,
		publisher: publisher,
		sink:      sink,
		video:     video,
		opts:      opts,
		logger:    logger,
	}
}

// Run steps the loop every period until ctx is done. Block failures never
// stop it.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("control loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.Infof("Control loop running every %v", l.opts.Period)
	for {
		if ctx.Err() != nil {
			l.logger.Infof("Control loop stopped after %d iterations", l.Stats().Iterations)
			return nil
		}

		start := l.opts.Clock.Now()
		l.Step()

		wait := l.opts.Period - l.opts.Clock.Since(start)
		if wait <= 0 {
			l.mu.Lock()
			l.overruns++
			l.mu.Unlock()
			l.logger.Debugf("Control cycle overran its period by %v", -wait)
			continue
		}

		select {
		case <-ctx.Done():
		case <-l.opts.Clock.After(wait):
		}
	}
}

// Step runs every block once, in order, and returns their outcomes.
func (l *Loop) Step() Report {
	var report Report
	report[BlockTelemetry] = l.runBlock(BlockTelemetry, l.telemetryBlock)
	report[BlockJoystick] = l.runBlock(BlockJoystick, l.joystickBlock)
	report[BlockActuator] = l.runBlock(BlockActuator, l.actuatorBlock)
	report[BlockVideo] = l.runBlock(BlockVideo, l.videoBlock)

	l.mu.Lock()
	l.iterations++
	l.lastStep = l.opts.Clock.Now()
	for b, err := range report {
		stats := &l.blocks[b]
		switch {
		case err == nil:
			stats.OK++
		case errors.Is(err, ErrNoData):
			stats.Skipped++
		default:
			stats.Failed++
			stats.LastErr = err.Error()
		}
	}
	l.mu.Unlock()

	return report
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		Iterations: l.iterations,
		Overruns:   l.overruns,
		LastStep:   l.lastStep,
		Blocks:     make(map[string]BlockStats, numBlocks),
	}
	for b, s := range l.blocks {
		stats.Blocks[Block(b).String()] = s
	}
	return stats
}

func (l *Loop) runBlock(b Block, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBlockPanic, r)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrNoData):
			l.logger.Debugf("No %s data this cycle", b)
		default:
			l.logger.Warnf("%s block failed: %v", b, err)
		}
	}()
	return fn()
}

func (l *Loop) telemetryBlock() error {
	t := telemetry.Telemetry{Timestamp: l.opts.Clock.Now()}
	if battery, ok := l.snapshots.Battery(); ok {
		t.Battery = &battery
		l.logger.Debugf("Battery voltage: %.2f V", battery.Voltage)
	}
	if rcIn, ok := l.snapshots.RCIn(); ok {
		t.RCIn = &rcIn
		l.logger.Debugf("RC in: %v", rcIn.Channels)
	}
	if rcOut, ok := l.snapshots.RCOut(); ok {
		t.RCOut = &rcOut
		l.logger.Debugf("RC out: %v", rcOut.Channels)
	}

	if t.Empty() {
		return ErrNoData
	}
	if l.sink != nil {
		l.sink.Record(t)
	}
	if !t.Complete() {
		return fmt.Errorf("%w: missing %s", ErrPartialTelemetry, strings.Join(t.Missing(), ", "))
	}
	return nil
}

func (l *Loop) joystickBlock() error {
	joy, ok := l.snapshots.Joystick()
	if !ok {
		return ErrNoData
	}
	if teleop.Truncated(joy.Axes) {
		l.logger.Debugf("Joystick has %d axes, only the first %d are mapped", len(joy.Axes), teleop.OverrideChannels)
	}

	var err error
	if perr := l.publisher.PublishOverride(l.opts.Mapper.Override(joy.Axes)); perr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to publish rc override: %w", perr))
	}
	if l.opts.Velocity != nil {
		if perr := l.publisher.PublishVelocity(l.opts.Velocity.Setpoint(joy.Axes)); perr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to publish velocity setpoint: %w", perr))
		}
	}
	return err
}

func (l *Loop) actuatorBlock() error {
	rcOut, ok := l.snapshots.RCOut()
	if !ok {
		return ErrNoData
	}

	thrust, err := l.opts.Calibration.ThrustAll(rcOut.Channels, l.opts.ThrusterCount)
	if err != nil {
		return err
	}

	for i, value := range thrust {
		if perr := l.publisher.PublishThrusterInput(i, value); perr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to publish thruster %d input: %w", i, perr))
		}
	}
	return err
}

func (l *Loop) videoBlock() error {
	if l.video == nil {
		return ErrNoData
	}
	return l.video.Refresh()
}
