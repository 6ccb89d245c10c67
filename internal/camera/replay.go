package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/zombor/asset-scanner/internal/frame"
)

var replayZoom = ZoomRange{Min: 1, Max: 4, Step: 0.1}

// ReplayDriver plays back still frames from a directory as if they came from
// a camera. Zoom is digital.
type ReplayDriver struct {
	Dir      string
	Interval time.Duration
	now      func() time.Time
}

// NewReplayDriver creates a new ReplayDriver
func NewReplayDriver(dir string, interval time.Duration) *ReplayDriver {
	return &ReplayDriver{Dir: dir, Interval: interval, now: time.Now}
}

// Open decodes every frame in the directory.
func (d *ReplayDriver) Open(ctx context.Context, facing Facing) ([]Track, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, d.Dir, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, d.Dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || frame.ContentTypeForPath(e.Name()) == "" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(d.Dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
			}
			return nil, fmt.Errorf("reading frame %s: %w", path, err)
		}
		img, err := frame.DecodeImage(data, frame.ContentTypeForPath(name))
		if err != nil {
			return nil, fmt.Errorf("decoding frame %s: %w", path, err)
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrCameraUnavailable, d.Dir)
	}

	now := d.now
	if now == nil {
		now = time.Now
	}
	return []Track{&replayTrack{
		frames:   frames,
		interval: d.Interval,
		started:  now(),
		now:      now,
		zoom:     replayZoom.Min,
	}}, nil
}

type replayTrack struct {
	frames   []image.Image
	interval time.Duration
	started  time.Time
	now      func() time.Time

	mu      sync.Mutex
	zoom    float64
	stopped bool
}

func (t *replayTrack) Kind() string {
	return "video"
}

func (t *replayTrack) Frame() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, ErrReleased
	}

	i := 0
	if t.interval > 0 {
		i = int(t.now().Sub(t.started)/t.interval) % len(t.frames)
	}
	img := t.frames[i]
	if t.zoom <= 1 {
		return img, nil
	}

	b := img.Bounds()
	w := int(float64(b.Dx()) / t.zoom)
	h := int(float64(b.Dy()) / t.zoom)
	x := b.Min.X + (b.Dx()-w)/2
	y := b.Min.Y + (b.Dy()-h)/2
	cropped := imaging.Crop(img, image.Rect(x, y, x+w, y+h))
	return imaging.Resize(cropped, b.Dx(), b.Dy(), imaging.Linear), nil
}

func (t *replayTrack) ZoomRange() (ZoomRange, bool) {
	return replayZoom, true
}

func (t *replayTrack) ApplyZoom(v float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zoom = v
	return nil
}

func (t *replayTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errors.New("replay track already stopped")
	}
	t.stopped = true
	return nil
}
