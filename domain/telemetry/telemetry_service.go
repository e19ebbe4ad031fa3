package telemetry

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

// Telemetry is what one control cycle saw of the vehicle state. Parts that
// had no data that cycle are nil.
type Telemetry struct {
	Timestamp time.Time          `json:"timestamp"`
	Battery   *msgs.BatteryState `json:"battery,omitempty"`
	RCIn      *msgs.RCIn         `json:"rc_in,omitempty"`
	RCOut     *msgs.RCOut        `json:"rc_out,omitempty"`
}

// Complete reports whether every part is present.
func (t Telemetry) Complete() bool {
	return t.Battery != nil && t.RCIn != nil && t.RCOut != nil
}

// Empty reports whether no part is present.
func (t Telemetry) Empty() bool {
	return t.Battery == nil && t.RCIn == nil && t.RCOut == nil
}

// Missing lists the absent parts by name.
func (t Telemetry) Missing() []string {
	var missing []string
	if t.Battery == nil {
		missing = append(missing, "battery")
	}
	if t.RCIn == nil {
		missing = append(missing, "rc_in")
	}
	if t.RCOut == nil {
		missing = append(missing, "rc_out")
	}
	return missing
}

// TelemetryService keeps the latest recorded telemetry for the API
type TelemetryService struct {
	mu       sync.RWMutex
	latest   Telemetry
	recorded int64
}

// NewTelemetryService creates a new telemetry service instance
func NewTelemetryService() *TelemetryService {
	return &TelemetryService{}
}

// Record stores t as the latest telemetry
func (s *TelemetryService) Record(t Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = t
	if s.latest.Timestamp.IsZero() {
		s.latest.Timestamp = time.Now()
	}
	s.recorded++
}

// Latest returns the latest telemetry and whether any was recorded
func (s *TelemetryService) Latest() (Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest, s.recorded > 0
}

// GetTelemetryHandler handles API requests for the latest telemetry
func (s *TelemetryService) GetTelemetryHandler(c *fiber.Ctx) error {
	latest, ok := s.Latest()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "error",
			"message": "no telemetry recorded yet",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "success",
		"telemetry": latest,
		"missing":   latest.Missing(),
	})
}
