// Package api serves the controller's HTTP and websocket endpoints.
package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/rov-controller/domain/telemetry"
	"github.com/open-teleop/rov-controller/domain/video"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/services"
)

// Dependencies are the services the API exposes. Viewer and Config may be nil.
type Dependencies struct {
	Telemetry     *telemetry.TelemetryService
	Viewer        *video.Viewer
	Config        services.VehicleConfigService
	Status        func() Status
	Router        MessageRouter
	JoystickTopic string
	AccessLog     bool
}

// NewApp builds the fiber app with every route registered.
func NewApp(deps Dependencies, logger customlog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Open-Teleop ROV Controller",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	if deps.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "open-teleop rov controller",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := app.Group("/api")
	api.Get("/telemetry", deps.Telemetry.GetTelemetryHandler)
	api.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(deps.Status())
	})
	if deps.Viewer != nil {
		api.Get("/video/frame", deps.Viewer.FrameHandler)
	}
	if deps.Config != nil {
		RegisterConfigRoutes(app, deps.Config, logger)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/joystick", websocket.New(func(conn *websocket.Conn) {
		JoystickWebSocketHandler(conn, logger, deps.Router, deps.JoystickTopic)
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
