package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

var (
	// ErrPermissionDenied means the user or the OS refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrCameraUnavailable means no device matches the requested facing mode.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrReleased is returned when reading from a handle after Release.
	ErrReleased = errors.New("camera released")
)

// Facing selects which physical camera to open
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// ParseFacing validates a facing mode name
func ParseFacing(s string) (Facing, error) {
	switch Facing(s) {
	case FacingEnvironment, FacingUser:
		return Facing(s), nil
	default:
		return "", fmt.Errorf("invalid facing mode %q: want %q or %q", s, FacingEnvironment, FacingUser)
	}
}

// ZoomRange is the zoom span reported by the hardware
type ZoomRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Clamp limits v to the range.
func (z ZoomRange) Clamp(v float64) float64 {
	if v < z.Min {
		return z.Min
	}
	if v > z.Max {
		return z.Max
	}
	return v
}

// Capabilities is the best-effort result of QueryCapabilities
type Capabilities struct {
	Zoom *ZoomRange `json:"zoom,omitempty"`
}

// Track is a single media track opened by a Driver
type Track interface {
	Kind() string
	Stop() error
}

// VideoTrack is a track that produces frames
type VideoTrack interface {
	Track
	// Frame returns the most recent frame.
	Frame() (image.Image, error)
}

// ZoomTrack is a video track that supports zoom
type ZoomTrack interface {
	ZoomRange() (ZoomRange, bool)
	ApplyZoom(v float64) error
}

// Driver opens camera tracks. On failure it may return the tracks it had
// already opened alongside the error.
type Driver interface {
	Open(ctx context.Context, facing Facing) ([]Track, error)
}

// Handle is an acquired camera
type Handle struct {
	facing Facing
	tracks []Track
	video  VideoTrack

	mu       sync.Mutex
	released bool
}

// Facing returns the facing mode the handle was acquired with.
func (h *Handle) Facing() Facing {
	return h.facing
}

// Frame returns the latest frame from the video track.
func (h *Handle) Frame() (image.Image, error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}
	return h.video.Frame()
}

// Released reports whether Release has run for this handle.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Controller owns camera acquisition and teardown
type Controller struct {
	driver Driver
	mu     sync.Mutex
}

// NewController creates a new Controller
func NewController(driver Driver) *Controller {
	return &Controller{driver: driver}
}

// Acquire opens the camera for facing. Any tracks opened before a failure
// are stopped before the error is returned.
func (c *Controller) Acquire(ctx context.Context, facing Facing) (*Handle, error) {
	tracks, err := c.driver.Open(ctx, facing)
	if err != nil {
		stopAll(tracks)
		return nil, classify(err)
	}

	h := &Handle{facing: facing, tracks: tracks}
	for _, t := range tracks {
		if v, ok := t.(VideoTrack); ok {
			h.video = v
			break
		}
	}
	if h.video == nil {
		c.Release(h)
		return nil, fmt.Errorf("%w: no video track for facing mode %s", ErrCameraUnavailable, facing)
	}
	return h, nil
}

// QueryCapabilities reports optional hardware features. Missing features are not errors.
func (c *Controller) QueryCapabilities(h *Handle) Capabilities {
	if h == nil {
		return Capabilities{}
	}
	if z, ok := h.video.(ZoomTrack); ok {
		if r, ok := z.ZoomRange(); ok {
			return Capabilities{Zoom: &r}
		}
	}
	return Capabilities{}
}

// SetZoom clamps value into the reported zoom range and applies it. When
// the camera reports no range it does nothing and returns supported=false.
func (c *Controller) SetZoom(h *Handle, value float64) (applied float64, supported bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == nil || h.Released() {
		return 0, false, ErrReleased
	}
	z, ok := h.video.(ZoomTrack)
	if !ok {
		return 0, false, nil
	}
	r, ok := z.ZoomRange()
	if !ok {
		return 0, false, nil
	}

	applied = r.Clamp(value)
	if err := z.ApplyZoom(applied); err != nil {
		return 0, true, fmt.Errorf("applying zoom: %w", err)
	}
	return applied, true, nil
}

// Release stops every track of the handle exactly once. Releasing twice,
// or releasing nil, is a no-op.
func (c *Controller) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	tracks := h.tracks
	h.mu.Unlock()

	return stopAll(tracks)
}

func stopAll(tracks []Track) error {
	var errs []error
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Stop(); err != nil {
			slog.Warn("Failed to stop camera track", "kind", t.Kind(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrCameraUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
}
