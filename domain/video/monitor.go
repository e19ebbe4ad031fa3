// Package video receives the vehicle camera feed and shows its latest frame.
package video

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

// ErrNoFrame is returned by Source.Frame when no unconsumed frame exists.
var ErrNoFrame = errors.New("no video frame available")

// Source produces decoded frames.
type Source interface {
	FrameAvailable() bool
	Frame() (image.Image, error)
}

// Display shows a frame. Show must not block the caller for long.
type Display interface {
	Show(img image.Image) error
}

// Monitor moves frames from a Source to a Display once per control cycle.
type Monitor struct {
	source  Source
	display Display
	shown   atomic.Int64
}

// NewMonitor creates a monitor for source and display.
func NewMonitor(source Source, display Display) *Monitor {
	return &Monitor{source: source, display: display}
}

// Refresh shows the next frame if one is available. No frame is not an error.
func (m *Monitor) Refresh() error {
	if !m.source.FrameAvailable() {
		return nil
	}

	img, err := m.source.Frame()
	if errors.Is(err, ErrNoFrame) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch video frame: %w", err)
	}

	if err := m.display.Show(img); err != nil {
		return fmt.Errorf("failed to show video frame: %w", err)
	}
	m.shown.Add(1)
	return nil
}

// Shown returns how many frames Refresh has displayed.
func (m *Monitor) Shown() int64 {
	return m.shown.Load()
}
