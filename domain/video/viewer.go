package video

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
)

// Viewer displays the live feed by serving its latest frame over HTTP.
type Viewer struct {
	width   int
	quality int

	mu      sync.RWMutex
	frame   image.Image
	shownAt time.Time
	encoded []byte
}

// NewViewer creates a viewer that scales frames down to width (0 keeps the
// original size) and encodes them as JPEG with quality.
func NewViewer(width, quality int) *Viewer {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Viewer{width: width, quality: quality}
}

// Show replaces the displayed frame. It runs on the control loop, so scaling
// and encoding are deferred to the first request for the frame.
func (v *Viewer) Show(img image.Image) error {
	if img == nil {
		return fmt.Errorf("nil frame")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.frame = img
	v.shownAt = time.Now()
	v.encoded = nil
	return nil
}

// Current returns the displayed frame at its received size, or nil before
// the first Show.
func (v *Viewer) Current() image.Image {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame
}

// JPEG returns the displayed frame scaled and encoded, or nil before the
// first Show.
func (v *Viewer) JPEG() ([]byte, time.Time, error) {
	v.mu.RLock()
	frame, encoded, shownAt := v.frame, v.encoded, v.shownAt
	v.mu.RUnlock()

	if frame == nil || encoded != nil {
		return encoded, shownAt, nil
	}

	scaled := frame
	if v.width > 0 && frame.Bounds().Dx() > v.width {
		scaled = imaging.Resize(frame, v.width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, imaging.JPEG, imaging.JPEGQuality(v.quality)); err != nil {
		return nil, shownAt, fmt.Errorf("failed to encode frame: %w", err)
	}

	v.mu.Lock()
	if v.frame == frame {
		v.encoded = buf.Bytes()
	}
	v.mu.Unlock()
	return buf.Bytes(), shownAt, nil
}

// FrameHandler serves the displayed frame as image/jpeg
func (v *Viewer) FrameHandler(c *fiber.Ctx) error {
	data, shownAt, err := v.JPEG()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": err.Error(),
		})
	}
	if data == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "error",
			"message": "no video frame yet",
		})
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderLastModified, shownAt.UTC().Format(http.TimeFormat))
	return c.Send(data)
}
