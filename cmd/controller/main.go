package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/open-teleop/rov-controller/domain/arm"
	"github.com/open-teleop/rov-controller/domain/control"
	"github.com/open-teleop/rov-controller/domain/telemetry"
	"github.com/open-teleop/rov-controller/domain/video"
	"github.com/open-teleop/rov-controller/pkg/api"
	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/processing"
	"github.com/open-teleop/rov-controller/pkg/zeromq"
	"github.com/open-teleop/rov-controller/services"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:  "rov-controller",
		Usage: "arm the ROV, map joystick input to rc overrides and thruster inputs, and show its video feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   "config",
				Usage:   "directory holding " + config.BootstrapFileName,
				EnvVars: []string{"OPEN_TELEOP_CONFIG_DIR"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level from the bootstrap config",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rov-controller: %v\n", err)
		os.Exit(1)
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func run(c *cli.Context) error {
	bootstrap, err := config.LoadBootstrapConfig(c.String("config-dir"))
	if err != nil {
		return err
	}

	level := bootstrap.Logging.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	rotation := customlog.DefaultRotation()
	if bootstrap.Logging.MaxSizeMB > 0 {
		rotation.MaxSizeMB = bootstrap.Logging.MaxSizeMB
	}
	if bootstrap.Logging.MaxBackups > 0 {
		rotation.MaxBackups = bootstrap.Logging.MaxBackups
	}
	logger, err := customlog.NewRotatingLogger(level, bootstrap.Logging.LogPath, rotation)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	configService, err := services.NewVehicleConfigService(bootstrap.Data.VehicleConfigPath(), logger)
	if err != nil {
		return err
	}
	vehicleCfg := configService.GetCurrentConfig()

	params, err := services.NewParamService(bootstrap.Data.ParamsPath(), logger)
	if err != nil {
		return err
	}

	loopOpts, err := control.OptionsFromConfig(vehicleCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &process{logger: logger, started: time.Now()}

	var frames control.FrameMonitor
	if vehicleCfg.Video.Enabled {
		port := params.GetInt(vehicleCfg.Video.PortParam, vehicleCfg.Video.DefaultUDPPort)
		rt.source, err = video.ListenUDP(port, logger)
		if err != nil {
			return err
		}
		rt.source.Start()
		rt.viewer = video.NewViewer(vehicleCfg.Video.DisplayWidth, vehicleCfg.Video.JPEGQuality)
		frames = video.NewMonitor(rt.source, rt.viewer)
	}

	registry := processing.NewTopicRegistry(logger)
	registry.LoadFromConfig(vehicleCfg)
	store := processing.NewSnapshotStore()

	rt.director = processing.NewMessageDirector(bootstrap.Processing, registry, logger)
	rt.director.SetProcessor(processing.NewMessageDecoder(logger, registry).CreateProcessorFunc())
	rt.director.SetResultHandler(processing.NewStoreResultHandler(logger, store).CreateHandlerFunc())
	rt.director.Start()

	inbound := registry.GetTopicsByDirection(config.DirectionInbound)
	rt.bus, err = zeromq.NewZeroMQService(bootstrap.ZeroMQ, inbound, rt.director, logger)
	if err != nil {
		return multierr.Append(err, rt.shutdown())
	}
	configService.SetPublisher(rt.bus)

	rt.arming = zeromq.NewArmingClient(rt.bus.Context(), bootstrap.ZeroMQ.ArmingServiceAddress,
		ms(vehicleCfg.Arming.RequestTimeoutMs), ms(vehicleCfg.Arming.ProbeIntervalMs), logger)
	rt.armer = arm.New(rt.arming, arm.Options{
		ServiceTimeout: ms(vehicleCfg.Arming.ServiceTimeoutMs),
		RequestTimeout: ms(vehicleCfg.Arming.RequestTimeoutMs),
		DisarmTimeout:  ms(vehicleCfg.Arming.DisarmTimeoutMs),
	}, logger)

	tel := telemetry.NewTelemetryService()
	publisher := zeromq.NewVehiclePublisher(rt.bus, vehicleCfg, logger)
	loop := control.New(store, publisher, tel, frames, loopOpts, logger)

	status := func() api.Status {
		ages := make(map[string]string)
		for name, age := range store.StreamAge() {
			ages[name] = age.Round(time.Millisecond).String()
		}
		s := api.Status{
			VehicleID:  vehicleCfg.VehicleID,
			ArmState:   rt.armer.State(),
			Uptime:     time.Since(rt.started).Round(time.Second).String(),
			Loop:       loop.Stats(),
			Pools:      rt.director.GetPoolMetrics(),
			Topics:     registry.GetTopicStats(),
			StreamAge:  ages,
			Subscriber: rt.bus.SubscriberStats(),
		}
		if rt.source != nil {
			videoStats := rt.source.Stats()
			s.Video = &videoStats
		}
		return s
	}
	zeromq.RegisterStatusHandlers(rt.bus, vehicleCfg, func() interface{} { return status() }, logger)

	if err := rt.bus.Start(); err != nil {
		return multierr.Append(fmt.Errorf("failed to start ZeroMQ service: %w", err), rt.shutdown())
	}

	if err := rt.armer.Arm(ctx); err != nil {
		logger.Errorf("Failed to arm vehicle: %v", err)
		return multierr.Append(err, rt.shutdown())
	}

	httpApp := api.NewApp(api.Dependencies{
		Telemetry:     tel,
		Viewer:        rt.viewer,
		Config:        configService,
		Status:        status,
		Router:        rt.director,
		JoystickTopic: vehicleCfg.Topic(config.TopicJoystick),
		AccessLog:     level == "debug",
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", bootstrap.Server.HTTPPort)
		logger.Infof("HTTP API listening on %s", addr)
		if err := httpApp.Listen(addr); err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpApp.ShutdownWithTimeout(httpShutdownTimeout)
	})

	runErr := g.Wait()
	logger.Infof("Shutting down")
	return multierr.Append(runErr, rt.shutdown())
}

// process owns what must be released on exit.
type process struct {
	logger   customlog.Logger
	started  time.Time
	source   *video.UDPSource
	viewer   *video.Viewer
	director *processing.MessageDirector
	bus      *zeromq.ZeroMQService
	arming   *zeromq.ArmingClient
	armer    *arm.Controller
}

// shutdown disarms first, then releases transports in reverse start order.
// The control loop must already be stopped.
func (r *process) shutdown() error {
	var errs error

	if r.armer != nil {
		if err := r.armer.Shutdown(context.Background()); err != nil {
			r.logger.Errorf("Vehicle may still be armed: %v", err)
			errs = multierr.Append(errs, err)
		}
	}
	if r.arming != nil {
		r.arming.Close()
	}
	if r.bus != nil {
		r.bus.Stop()
	}
	if r.director != nil {
		r.director.Stop()
	}
	if r.source != nil {
		errs = multierr.Append(errs, r.source.Close())
	}
	return errs
}
