package telemetry

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

func TestTelemetryParts(t *testing.T) {
	var tel Telemetry
	if !tel.Empty() || tel.Complete() {
		t.Errorf("Expected zero telemetry to be empty and incomplete")
	}

	tel.Battery = &msgs.BatteryState{Voltage: 16}
	if tel.Empty() || tel.Complete() {
		t.Errorf("Expected partial telemetry to be neither empty nor complete")
	}
	if diff := cmp.Diff([]string{"rc_in", "rc_out"}, tel.Missing()); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}

	tel.RCIn = &msgs.RCIn{}
	tel.RCOut = &msgs.RCOut{}
	if !tel.Complete() || len(tel.Missing()) != 0 {
		t.Errorf("Expected complete telemetry")
	}
}

func TestTelemetryHandler(t *testing.T) {
	s := NewTelemetryService()
	app := fiber.New()
	app.Get("/api/telemetry", s.GetTelemetryHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/telemetry", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("Expected 503 before any telemetry, got %d", resp.StatusCode)
	}

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Record(Telemetry{
		Timestamp: stamp,
		Battery:   &msgs.BatteryState{Voltage: 15.6},
		RCOut:     &msgs.RCOut{Channels: []uint16{1500, 1600}},
	})

	resp, err = app.Test(httptest.NewRequest("GET", "/api/telemetry", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var got struct {
		Status    string    `json:"status"`
		Telemetry Telemetry `json:"telemetry"`
		Missing   []string  `json:"missing"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if got.Telemetry.Battery == nil || got.Telemetry.Battery.Voltage != 15.6 {
		t.Errorf("Expected battery voltage 15.6, got %+v", got.Telemetry.Battery)
	}
	if !got.Telemetry.Timestamp.Equal(stamp) {
		t.Errorf("Expected timestamp %v, got %v", stamp, got.Telemetry.Timestamp)
	}
	if diff := cmp.Diff([]string{"rc_in"}, got.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
}
