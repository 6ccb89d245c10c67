package feedback

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/lucasb-eyer/go-colorful"
)

// ErrFeedbackUnavailable is returned when a tone or flash cannot be produced.
// Callers treat it as non-fatal.
var ErrFeedbackUnavailable = errors.New("feedback unavailable")

// Tone plays a short audible confirmation
type Tone interface {
	Beep() error
}

// Flasher briefly highlights the frame that produced a match
type Flasher interface {
	Flash(img image.Image) error
}

// Bell rings the terminal bell on W
type Bell struct {
	W io.Writer
}

func (b *Bell) Beep() error {
	if b == nil || b.W == nil {
		return ErrFeedbackUnavailable
	}
	if _, err := b.W.Write([]byte{'\a'}); err != nil {
		return fmt.Errorf("%w: %v", ErrFeedbackUnavailable, err)
	}
	return nil
}

const (
	defaultBrightness = 0.35
	defaultTintAmount = 0.2
)

// Overlay keeps a brightened, tinted copy of the matched frame for a short
// time so previews show the flash.
type Overlay struct {
	Duration   time.Duration
	Brightness float64
	Tint       colorful.Color
	TintAmount float64

	now func() time.Time

	mu      sync.Mutex
	frame   image.Image
	expires time.Time
}

// NewOverlay creates an Overlay that holds each flash for d
func NewOverlay(d time.Duration) *Overlay {
	tint, _ := colorful.Hex("#7CFC00")
	return &Overlay{
		Duration:   d,
		Brightness: defaultBrightness,
		Tint:       tint,
		TintAmount: defaultTintAmount,
		now:        time.Now,
	}
}

// Flash renders the highlighted frame and holds it for the overlay duration.
func (o *Overlay) Flash(img image.Image) error {
	if o == nil || o.Duration <= 0 {
		return ErrFeedbackUnavailable
	}
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("%w: no frame to flash", ErrFeedbackUnavailable)
	}

	bright := adjust.Brightness(img, o.Brightness)
	b := bright.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := bright.RGBAAt(x, y)
			c, ok := colorful.MakeColor(px)
			if !ok {
				continue
			}
			r, g, bl := c.BlendRgb(o.Tint, o.TintAmount).Clamped().RGB255()
			bright.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: px.A})
		}
	}

	o.mu.Lock()
	o.frame = bright
	o.expires = o.now().Add(o.Duration)
	o.mu.Unlock()
	return nil
}

// Latest returns the flashed frame while the flash is still showing.
func (o *Overlay) Latest() (image.Image, bool) {
	if o == nil {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frame == nil || !o.now().Before(o.expires) {
		o.frame = nil
		return nil, false
	}
	return o.frame, true
}

// Feedback emits the tone and flash for a match. Both are best-effort.
type Feedback struct {
	tone    Tone
	flasher Flasher
}

// New creates a Feedback. Either part may be nil.
func New(tone Tone, flasher Flasher) *Feedback {
	return &Feedback{tone: tone, flasher: flasher}
}

// Emit plays the tone and flashes frame, logging any failure.
func (f *Feedback) Emit(frame image.Image) {
	if f == nil {
		return
	}
	if f.tone != nil {
		if err := f.tone.Beep(); err != nil {
			logFailure("tone", err)
		}
	}
	if f.flasher != nil && frame != nil {
		if err := f.flasher.Flash(frame); err != nil {
			logFailure("flash", err)
		}
	}
}

func logFailure(kind string, err error) {
	if errors.Is(err, ErrFeedbackUnavailable) {
		slog.Debug("Feedback unavailable", "kind", kind, "error", err)
		return
	}
	slog.Warn("Feedback failed", "kind", kind, "error", err)
}
