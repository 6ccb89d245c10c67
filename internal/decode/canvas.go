package decode

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/zombor/asset-scanner/internal/frame"
)

// Attempt is one sampling configuration tried by the canvas backend
type Attempt struct {
	Region   frame.Region
	Contrast frame.Contrast
	Rotation frame.Rotation
}

// DefaultAttempts returns all 56 configurations. Upright frames are tried
// first across every region and contrast, so the first attempt is the full
// frame at normal contrast with no rotation.
func DefaultAttempts() []Attempt {
	attempts := make([]Attempt, 0, len(frame.Rotations)*len(frame.Contrasts)*len(frame.Regions))
	for _, rot := range frame.Rotations {
		for _, contrast := range frame.Contrasts {
			for _, region := range frame.Regions {
				attempts = append(attempts, Attempt{Region: region, Contrast: contrast, Rotation: rot})
			}
		}
	}
	return attempts
}

// CanvasOption configures a Canvas
type CanvasOption func(*Canvas)

// WithAttempts replaces the attempt order.
func WithAttempts(attempts []Attempt) CanvasOption {
	return func(c *Canvas) {
		c.attempts = attempts
	}
}

// WithAttemptBudget caps the number of attempts per frame. Zero or less means no cap.
func WithAttemptBudget(n int) CanvasOption {
	return func(c *Canvas) {
		c.budget = n
	}
}

// WithClock sets the timestamp source for results.
func WithClock(now func() time.Time) CanvasOption {
	return func(c *Canvas) {
		c.now = now
	}
}

// Canvas runs a QR decoder over cropped, contrast-adjusted and rotated
// samples of a frame
type Canvas struct {
	decoder  QRDecoder
	attempts []Attempt
	budget   int
	now      func() time.Time
}

// NewCanvas creates a new Canvas
func NewCanvas(decoder QRDecoder, opts ...CanvasOption) *Canvas {
	c := &Canvas{
		decoder:  decoder,
		attempts: DefaultAttempts(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sampleKey struct {
	region   frame.Region
	contrast frame.Contrast
}

// Attempt returns the first successful decode. It stops early when ctx is done.
func (c *Canvas) Attempt(ctx context.Context, img image.Image) (Result, bool) {
	if img == nil {
		return Result{}, false
	}

	samples := make(map[sampleKey]image.Image)
	for i, a := range c.attempts {
		if c.budget > 0 && i >= c.budget {
			break
		}
		if ctx.Err() != nil {
			return Result{}, false
		}

		key := sampleKey{a.Region, a.Contrast}
		sampled, ok := samples[key]
		if !ok {
			sampled = frame.Sample(img, a.Region, a.Contrast)
			samples[key] = sampled
		}

		payload, ok := c.decoder.Decode(frame.Rotate(sampled, a.Rotation))
		if !ok || payload == "" {
			continue
		}

		slog.Debug("Canvas decode hit",
			"attempt", i,
			"region", a.Region.String(),
			"contrast", a.Contrast.String(),
			"rotation", int(a.Rotation),
		)
		return Result{
			Payload:   payload,
			Source:    SourceCanvas,
			Symbology: "QR_CODE",
			Timestamp: c.now(),
		}, true
	}
	return Result{}, false
}
