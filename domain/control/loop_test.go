package control

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/open-teleop/rov-controller/domain/telemetry"
	"github.com/open-teleop/rov-controller/domain/teleop"
	"github.com/open-teleop/rov-controller/domain/thruster"
	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

type fakeSnapshots struct {
	mu      sync.Mutex
	joy     *msgs.Joy
	battery *msgs.BatteryState
	rcIn    *msgs.RCIn
	rcOut   *msgs.RCOut
	panicOn string
}

func (f *fakeSnapshots) Joystick() (msgs.Joy, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == "joystick" {
		panic("joystick driver exploded")
	}
	if f.joy == nil {
		return msgs.Joy{}, false
	}
	return *f.joy, true
}

func (f *fakeSnapshots) Battery() (msgs.BatteryState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.battery == nil {
		return msgs.BatteryState{}, false
	}
	return *f.battery, true
}

func (f *fakeSnapshots) RCIn() (msgs.RCIn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rcIn == nil {
		return msgs.RCIn{}, false
	}
	return *f.rcIn, true
}

func (f *fakeSnapshots) RCOut() (msgs.RCOut, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rcOut == nil {
		return msgs.RCOut{}, false
	}
	return *f.rcOut, true
}

type fakePublisher struct {
	mu           sync.Mutex
	overrides    []msgs.OverrideRCIn
	velocities   []msgs.TwistStamped
	thrust       map[int]float64
	failThrust   int
	failOverride bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{thrust: make(map[int]float64), failThrust: -1}
}

func (f *fakePublisher) PublishOverride(o msgs.OverrideRCIn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOverride {
		return errors.New("bus down")
	}
	f.overrides = append(f.overrides, o)
	return nil
}

func (f *fakePublisher) PublishVelocity(v msgs.TwistStamped) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.velocities = append(f.velocities, v)
	return nil
}

func (f *fakePublisher) PublishThrusterInput(i int, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i == f.failThrust {
		return errors.New("thruster topic unavailable")
	}
	f.thrust[i] = v
	return nil
}

type fakeSink struct {
	recorded []telemetry.Telemetry
}

func (f *fakeSink) Record(t telemetry.Telemetry) { f.recorded = append(f.recorded, t) }

type fakeMonitor struct {
	refreshes int
	err       error
}

func (f *fakeMonitor) Refresh() error {
	f.refreshes++
	return f.err
}

func testLogger() customlog.Logger {
	return customlog.NewWriterLogger("error", io.Discard)
}

func TestStepWithoutData(t *testing.T) {
	pub := newFakePublisher()
	sink := &fakeSink{}
	loop := New(&fakeSnapshots{}, pub, sink, nil, Options{Clock: clock.NewMock()}, testLogger())

	report := loop.Step()
	for b, err := range report {
		if !errors.Is(err, ErrNoData) {
			t.Errorf("Expected %s to be skipped, got %v", Block(b), err)
		}
	}
	if err := report.Err(); err != nil {
		t.Errorf("Expected skips not to count as failures, got %v", err)
	}
	if len(pub.overrides) != 0 || len(pub.thrust) != 0 || len(sink.recorded) != 0 {
		t.Errorf("Expected nothing published or recorded")
	}
}

func TestStepFullCycle(t *testing.T) {
	snaps := &fakeSnapshots{
		joy:     &msgs.Joy{Axes: []float64{0.5, -1, 0}},
		battery: &msgs.BatteryState{Voltage: 16.1},
		rcIn:    &msgs.RCIn{Channels: []uint16{1500, 1500}},
		rcOut:   &msgs.RCOut{Channels: []uint16{1500, 1900, 1100, 1700, 1300, 1500, 1500, 1500}},
	}
	pub := newFakePublisher()
	sink := &fakeSink{}
	video := &fakeMonitor{}
	loop := New(snaps, pub, sink, video, Options{Clock: clock.NewMock()}, testLogger())

	if err := loop.Step().Err(); err != nil {
		t.Fatalf("Expected a clean step, got %v", err)
	}

	want := msgs.OverrideRCIn{Channels: [8]uint16{1700, 1100, 1500, 0, 0, 0, 0, 0}}
	if diff := cmp.Diff([]msgs.OverrideRCIn{want}, pub.overrides); diff != "" {
		t.Errorf("Override mismatch (-want +got):\n%s", diff)
	}
	if len(pub.velocities) != 0 {
		t.Errorf("Expected no velocity setpoint when disabled")
	}

	wantThrust := map[int]float64{0: 0, 1: 1, 2: -1, 3: 0.5, 4: -0.5, 5: 0}
	if diff := cmp.Diff(wantThrust, pub.thrust, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Thrust mismatch (-want +got):\n%s", diff)
	}

	if len(sink.recorded) != 1 || !sink.recorded[0].Complete() {
		t.Errorf("Expected one complete telemetry record, got %+v", sink.recorded)
	}
	if video.refreshes != 1 {
		t.Errorf("Expected 1 video refresh, got %d", video.refreshes)
	}
}

func TestStepIsolatesBlocks(t *testing.T) {
	snaps := &fakeSnapshots{
		joy:     &msgs.Joy{Axes: []float64{0}},
		battery: &msgs.BatteryState{Voltage: 15},
		rcOut:   &msgs.RCOut{Channels: []uint16{1600, 1600, 1600, 1600, 1600, 1600}},
		panicOn: "joystick",
	}
	pub := newFakePublisher()
	pub.failThrust = 2
	sink := &fakeSink{}
	video := &fakeMonitor{err: errors.New("display closed")}
	loop := New(snaps, pub, sink, video, Options{Clock: clock.NewMock()}, testLogger())

	report := loop.Step()

	if !errors.Is(report[BlockTelemetry], ErrPartialTelemetry) {
		t.Errorf("Expected partial telemetry, got %v", report[BlockTelemetry])
	}
	if len(sink.recorded) != 1 || sink.recorded[0].RCIn != nil || sink.recorded[0].Battery == nil {
		t.Errorf("Expected the partial telemetry to be recorded, got %+v", sink.recorded)
	}
	if !errors.Is(report[BlockJoystick], ErrBlockPanic) {
		t.Errorf("Expected recovered joystick panic, got %v", report[BlockJoystick])
	}
	if report[BlockActuator] == nil {
		t.Errorf("Expected actuator failure for thruster 2")
	}
	if len(pub.thrust) != 5 {
		t.Errorf("Expected the other 5 thrusters to be published, got %d", len(pub.thrust))
	}
	if report[BlockVideo] == nil || video.refreshes != 1 {
		t.Errorf("Expected video block to run and fail, got %v", report[BlockVideo])
	}

	stats := loop.Stats()
	if stats.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", stats.Iterations)
	}
	if stats.Blocks["joystick"].Failed != 1 || stats.Blocks["joystick"].LastErr == "" {
		t.Errorf("Expected joystick failure to be counted, got %+v", stats.Blocks["joystick"])
	}

	// The next cycle runs normally once the fault clears
	snaps.mu.Lock()
	snaps.panicOn = ""
	snaps.mu.Unlock()
	if err := loop.Step()[BlockJoystick]; err != nil {
		t.Errorf("Expected joystick block to recover, got %v", err)
	}
	if len(pub.overrides) != 1 {
		t.Errorf("Expected 1 override after recovery, got %d", len(pub.overrides))
	}
}

func TestStepShortActuatorOutput(t *testing.T) {
	snaps := &fakeSnapshots{rcOut: &msgs.RCOut{Channels: []uint16{1500, 1500}}}
	pub := newFakePublisher()
	loop := New(snaps, pub, nil, nil, Options{Clock: clock.NewMock()}, testLogger())

	report := loop.Step()
	if !errors.Is(report[BlockActuator], thruster.ErrShortOutput) {
		t.Errorf("Expected ErrShortOutput, got %v", report[BlockActuator])
	}
	if len(pub.thrust) != 0 {
		t.Errorf("Expected no thruster input from partial output, got %v", pub.thrust)
	}
}

func TestStepVelocitySetpoint(t *testing.T) {
	snaps := &fakeSnapshots{joy: &msgs.Joy{Axes: []float64{0.5, 0, 0, -1}}}
	pub := newFakePublisher()
	velocity := teleop.VelocityMapping{
		LinearX:  teleop.AxisBinding{Axis: 0, Scale: 2},
		AngularZ: teleop.AxisBinding{Axis: 3, Scale: 0.5},
	}
	loop := New(snaps, pub, nil, nil, Options{Velocity: &velocity, Clock: clock.NewMock()}, testLogger())

	loop.Step()
	if len(pub.velocities) != 1 {
		t.Fatalf("Expected 1 velocity setpoint, got %d", len(pub.velocities))
	}
	twist := pub.velocities[0].Twist
	if twist.Linear.X != 1 || twist.Angular.Z != -0.5 {
		t.Errorf("Expected linear.x 1 and angular.z -0.5, got %+v", twist)
	}
}

func TestStepOverrideFailureDoesNotBlockVelocity(t *testing.T) {
	snaps := &fakeSnapshots{joy: &msgs.Joy{Axes: []float64{1}}}
	pub := newFakePublisher()
	pub.failOverride = true
	velocity := teleop.VelocityMapping{LinearX: teleop.AxisBinding{Axis: 0, Scale: 1}}
	loop := New(snaps, pub, nil, nil, Options{Velocity: &velocity, Clock: clock.NewMock()}, testLogger())

	if err := loop.Step()[BlockJoystick]; err == nil {
		t.Errorf("Expected override publish failure")
	}
	if len(pub.velocities) != 1 {
		t.Errorf("Expected velocity setpoint despite override failure")
	}
}

func TestRunPacesAndStops(t *testing.T) {
	mock := clock.NewMock()
	pub := newFakePublisher()
	snaps := &fakeSnapshots{joy: &msgs.Joy{Axes: []float64{0}}}
	loop := New(snaps, pub, nil, nil, Options{Period: 100 * time.Millisecond, Clock: mock}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor := func(n int64, within time.Duration) bool {
		deadline := time.Now().Add(within)
		for loop.Stats().Iterations < n {
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(time.Millisecond)
		}
		return true
	}

	if !waitFor(1, 2*time.Second) {
		t.Fatalf("Timed out waiting for the first iteration")
	}
	time.Sleep(10 * time.Millisecond)
	if got := loop.Stats().Iterations; got != 1 {
		t.Errorf("Expected the loop to wait for the period, got %d iterations", got)
	}

	// The loop may not be waiting on the clock yet, so advance until it steps
	for i := int64(2); i <= 4; i++ {
		stepped := false
		for attempt := 0; attempt < 10 && !stepped; attempt++ {
			mock.Add(100 * time.Millisecond)
			stepped = waitFor(i, 200*time.Millisecond)
		}
		if !stepped {
			t.Fatalf("Timed out waiting for iteration %d", i)
		}
	}

	if err := loop.Run(ctx); err == nil {
		t.Errorf("Expected error when running twice")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Loop did not stop after cancel")
	}

	if got := loop.Stats().Iterations; got != 4 {
		t.Errorf("Expected 4 iterations, got %d", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Control.PeriodMs = 50
	cfg.VelocitySetpoint.Enabled = true
	cfg.VelocitySetpoint.LinearX = config.AxisBinding{Axis: 1, Scale: 0.5}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig failed: %v", err)
	}
	if opts.Period != 50*time.Millisecond {
		t.Errorf("Expected 50ms period, got %v", opts.Period)
	}
	if opts.Velocity == nil || opts.Velocity.LinearX.Axis != 1 {
		t.Errorf("Expected velocity mapping on axis 1, got %+v", opts.Velocity)
	}
	if opts.Mapper != teleop.DefaultMapper() {
		t.Errorf("Expected default mapper, got %+v", opts.Mapper)
	}

	cfg.Thrusters.MinPWM = 1600
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Errorf("Expected error for min_pwm above neutral")
	}
}
