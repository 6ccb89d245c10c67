//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/zombor/asset-scanner/internal/frame"
)

const (
	pixFmtMJPEG = 0x47504A4D
	pixFmtYUYV  = 0x56595559
	pixFmtGREY  = 0x59455247

	// V4L2_CID_ZOOM_ABSOLUTE
	zoomAbsolute webcam.ControlID = 0x009a090d

	defaultWaitTimeout = 1
	defaultBuffers     = 4
)

// pixel formats in order of preference
var preferredFormats = []webcam.PixelFormat{pixFmtMJPEG, pixFmtYUYV, pixFmtGREY}

// V4L2Driver opens Video4Linux devices, one device node per facing mode
type V4L2Driver struct {
	Devices  map[Facing]string
	MaxWidth uint32
	Timeout  uint32
}

// NewV4L2Driver creates a new V4L2Driver
func NewV4L2Driver(devices map[Facing]string, maxWidth uint32) *V4L2Driver {
	return &V4L2Driver{Devices: devices, MaxWidth: maxWidth, Timeout: defaultWaitTimeout}
}

// Open opens the device configured for facing and starts streaming.
func (d *V4L2Driver) Open(ctx context.Context, facing Facing) ([]Track, error) {
	path := d.Devices[facing]
	if path == "" {
		return nil, fmt.Errorf("%w: no device configured for %s", ErrCameraUnavailable, facing)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, path, err)
	}

	t := &v4l2Track{
		cam:     cam,
		path:    path,
		timeout: d.Timeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := t.configure(d.MaxWidth); err != nil {
		return []Track{t}, fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, path, err)
	}

	cam.SetBufferCount(defaultBuffers)
	if err := cam.StartStreaming(); err != nil {
		return []Track{t}, fmt.Errorf("%w: %s: starting stream: %v", ErrCameraUnavailable, path, err)
	}
	t.streaming = true
	go t.capture()

	slog.Info("Camera opened", "device", path, "facing", facing, "width", t.width, "height", t.height)
	return []Track{t}, nil
}

// v4l2Track keeps the newest raw frame from a streaming device
type v4l2Track struct {
	cam       *webcam.Webcam
	path      string
	format    webcam.PixelFormat
	width     int
	height    int
	timeout   uint32
	streaming bool

	mu      sync.Mutex
	raw     []byte
	seq     uint64
	decoded image.Image
	decSeq  uint64
	err     error

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (t *v4l2Track) configure(maxWidth uint32) error {
	formats := t.cam.GetSupportedFormats()

	var format webcam.PixelFormat
	for _, f := range preferredFormats {
		if _, ok := formats[f]; ok {
			format = f
			break
		}
	}
	if format == 0 {
		return fmt.Errorf("no supported pixel format (have %v)", formats)
	}

	var best *webcam.FrameSize
	for _, size := range t.cam.GetSupportedFrameSizes(format) {
		if maxWidth > 0 && size.MaxWidth > maxWidth {
			continue
		}
		if best == nil || size.MaxWidth*size.MaxHeight > best.MaxWidth*best.MaxHeight {
			best = &size
		}
	}
	if best == nil {
		return fmt.Errorf("no frame size for %s", formats[format])
	}

	f, w, h, err := t.cam.SetImageFormat(format, best.MaxWidth, best.MaxHeight)
	if err != nil {
		return fmt.Errorf("setting image format: %w", err)
	}
	t.format = f
	t.width = int(w)
	t.height = int(h)
	return nil
}

// capture reads frames until stopped
func (t *v4l2Track) capture() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		err := t.cam.WaitForFrame(t.timeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			t.fail(err)
			return
		}

		buf, err := t.cam.ReadFrame()
		if err != nil {
			t.fail(err)
			return
		}
		if len(buf) == 0 {
			continue
		}

		raw := make([]byte, len(buf))
		copy(raw, buf)
		t.mu.Lock()
		t.raw = raw
		t.seq++
		t.mu.Unlock()
	}
}

func (t *v4l2Track) fail(err error) {
	slog.Error("Camera capture stopped", "device", t.path, "error", err)
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *v4l2Track) Kind() string {
	return "video"
}

// Frame decodes the newest raw frame, reusing the previous decode when no
// new frame has arrived.
func (t *v4l2Track) Frame() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	if t.raw == nil {
		return nil, errors.New("no frame captured yet")
	}
	if t.decoded != nil && t.decSeq == t.seq {
		return t.decoded, nil
	}

	var (
		img image.Image
		err error
	)
	switch t.format {
	case pixFmtMJPEG:
		img, err = frame.DecodeImage(t.raw, "image/jpeg")
	case pixFmtYUYV:
		img, err = frame.FromYUYV(t.raw, t.width, t.height)
	case pixFmtGREY:
		img, err = frame.FromGrey(t.raw, t.width, t.height)
	default:
		err = fmt.Errorf("unsupported pixel format %08x", uint32(t.format))
	}
	if err != nil {
		return nil, err
	}
	t.decoded = img
	t.decSeq = t.seq
	return img, nil
}

func (t *v4l2Track) ZoomRange() (ZoomRange, bool) {
	c, ok := t.cam.GetControls()[zoomAbsolute]
	if !ok || c.Max <= c.Min {
		return ZoomRange{}, false
	}
	return ZoomRange{Min: float64(c.Min), Max: float64(c.Max), Step: 1}, true
}

func (t *v4l2Track) ApplyZoom(v float64) error {
	return t.cam.SetControl(zoomAbsolute, int32(v+0.5))
}

// Stop ends the capture loop and closes the device. Only the first call has effect.
func (t *v4l2Track) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.streaming {
			close(t.stop)
			<-t.done
			if stopErr := t.cam.StopStreaming(); stopErr != nil {
				slog.Warn("Failed to stop streaming", "device", t.path, "error", stopErr)
			}
		}
		err = t.cam.Close()
	})
	return err
}
