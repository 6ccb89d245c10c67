package decode

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by AttemptAsync while a previous call is still running.
var ErrBusy = errors.New("hardware detection in flight")

// Hardware wraps a native Detector. Availability is probed once per
// process and a detector that reports ErrBackendUnavailable stays
// unavailable.
type Hardware struct {
	detector Detector
	now      func() time.Time

	probe       sync.Once
	unavailable atomic.Bool
	busy        atomic.Bool
}

// NewHardware creates a new Hardware backend. A nil detector is never available.
func NewHardware(detector Detector) *Hardware {
	return &Hardware{detector: detector, now: time.Now}
}

// Available probes the detector on first use and caches the answer.
func (h *Hardware) Available(ctx context.Context) bool {
	h.probe.Do(func() {
		if h.detector == nil {
			h.unavailable.Store(true)
			return
		}
		if err := h.detector.Probe(ctx); err != nil {
			slog.Info("Hardware detector unavailable", "error", err)
			h.unavailable.Store(true)
		}
	})
	return !h.unavailable.Load()
}

// Attempt runs the detector synchronously against img.
func (h *Hardware) Attempt(ctx context.Context, img image.Image) (Result, bool, error) {
	if !h.Available(ctx) {
		return Result{}, false, ErrBackendUnavailable
	}

	detections, err := h.detector.Detect(ctx, img)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			slog.Warn("Hardware detector became unavailable", "error", err)
			h.unavailable.Store(true)
		}
		return Result{}, false, err
	}

	for _, d := range detections {
		if strings.TrimSpace(d.Payload) == "" {
			continue
		}
		return Result{
			Payload:   d.Payload,
			Source:    SourceHardware,
			Symbology: d.Symbology,
			Timestamp: h.now(),
		}, true, nil
	}
	return Result{}, false, nil
}

// AttemptAsync runs Attempt on its own goroutine and hands any result to
// deliver. Only one call runs at a time.
func (h *Hardware) AttemptAsync(ctx context.Context, img image.Image, deliver func(Result)) error {
	if !h.Available(ctx) {
		return ErrBackendUnavailable
	}
	if !h.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer h.busy.Store(false)
		result, ok, err := h.Attempt(ctx, img)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("Hardware detection failed", "error", err)
			}
			return
		}
		if ok {
			deliver(result)
		}
	}()
	return nil
}
