package scanner

import (
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/serial"
	"github.com/zombor/asset-scanner/internal/session"
)

func (e *Engine) schedule(d time.Duration) {
	e.cancelTimer()
	if e.session == nil {
		return
	}
	id, seq := e.session.ID, e.seq
	e.timer = time.AfterFunc(d, func() {
		e.post(func() { e.tick(id, seq) })
	})
}

// cancelTimer stops the pending tick and invalidates any tick message
// already queued.
func (e *Engine) cancelTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
}

func (e *Engine) current(id string) *session.Session {
	if e.session == nil || e.session.ID != id {
		return nil
	}
	return e.session
}

func (e *Engine) tick(id string, seq uint64) {
	s := e.current(id)
	if s == nil || seq != e.seq || s.State() != session.StateScanning {
		return
	}
	e.timer = nil

	for _, r := range s.Drain() {
		if e.present(s, r, nil) {
			return
		}
	}

	if e.continuousOwns(s) {
		e.schedule(e.cfg.Interval)
		return
	}

	frame, err := e.handle.Frame()
	if err != nil {
		slog.Debug("No frame this tick", "session", id, "error", err)
		e.schedule(e.cfg.Interval)
		return
	}

	for _, src := range e.cfg.Priority {
		if e.runBackend(s, src, frame) {
			return
		}
	}
	e.schedule(e.cfg.Interval)
}

// runBackend tries one tick backend and reports whether it produced a
// match that paused the session.
func (e *Engine) runBackend(s *session.Session, src decode.Source, frame image.Image) bool {
	ctx := e.sessionCtx
	switch src {
	case decode.SourceCanvas:
		if e.deps.Canvas == nil {
			return false
		}
		if r, ok := e.deps.Canvas.Attempt(ctx, frame); ok {
			return e.present(s, r, frame)
		}
	case decode.SourceHardware:
		if e.deps.Hardware == nil || e.hardwareDown {
			return false
		}
		id := s.ID
		err := e.deps.Hardware.AttemptAsync(ctx, frame, func(r decode.Result) {
			e.post(func() { e.asyncResult(id, r) })
		})
		switch {
		case err == nil, errors.Is(err, decode.ErrBusy):
		case errors.Is(err, decode.ErrBackendUnavailable):
			slog.Info("Hardware detector unavailable, relying on other backends", "session", id)
			e.hardwareDown = true
		default:
			slog.Debug("Hardware detection not started", "session", id, "error", err)
		}
	case decode.SourceOCR:
		if e.deps.OCR == nil {
			return false
		}
		r, ok, err := e.deps.OCR.Attempt(ctx, frame)
		if err != nil {
			slog.Debug("OCR attempt failed", "session", s.ID, "error", err)
			return false
		}
		if ok {
			return e.present(s, r, frame)
		}
	}
	return false
}

// asyncResult buffers a result from a backend goroutine until the next
// tick. Results for a closed, replaced or paused session are dropped.
func (e *Engine) asyncResult(id string, r decode.Result) {
	s := e.current(id)
	if s == nil || s.State() != session.StateScanning {
		slog.Debug("Discarding late result", "session", id, "source", r.Source, "payload", r.Payload)
		return
	}
	s.Enqueue(r)
}

func (e *Engine) heartbeat(id string, t time.Time) {
	s := e.current(id)
	if s == nil || e.cfg.ContinuousLiveness <= 0 {
		return
	}
	if !s.ContinuousOwning {
		slog.Info("Continuous decoder alive, suspending tick backends", "session", id)
	}
	s.ContinuousOwning = true
	s.LastHeartbeat = t
}

// continuousOwns reports whether the continuous decoder has made a scan
// pass within the liveness window. Ownership lapses once it goes quiet.
func (e *Engine) continuousOwns(s *session.Session) bool {
	if e.cfg.ContinuousLiveness <= 0 || !s.ContinuousOwning {
		return false
	}
	if time.Since(s.LastHeartbeat) <= e.cfg.ContinuousLiveness {
		return true
	}
	slog.Info("Continuous decoder stalled, resuming tick backends", "session", s.ID, "last_heartbeat", s.LastHeartbeat)
	s.ContinuousOwning = false
	return false
}

// present runs a detection through the match pipeline. It reports whether
// the session moved to match_pending; ignored codes leave it scanning.
func (e *Engine) present(s *session.Session, r decode.Result, frame image.Image) bool {
	candidate := serial.FromPayload(r.Payload)
	if s.IsIgnored(r.Payload, candidate.Raw, candidate.Normalized) {
		slog.Debug("Ignoring dismissed code", "session", s.ID, "payload", r.Payload)
		return false
	}

	e.cancelTimer()
	if e.deps.Continuous != nil {
		e.deps.Continuous.Pause()
	}

	if e.deps.Feedback != nil {
		if frame == nil {
			frame, _ = e.handle.Frame()
		}
		e.deps.Feedback.Emit(frame)
	}

	if err := s.Fire(e.sessionCtx, session.EventMatch); err != nil {
		slog.Warn("Session match transition failed", "session", s.ID, "error", err)
		return false
	}
	s.ClearPending()

	s.Match = &session.Match{
		Result:    r,
		Candidate: candidate,
		Asset:     e.lookup(candidate),
	}
	slog.Info("Match found",
		"session", s.ID,
		"source", r.Source,
		"payload", r.Payload,
		"candidate", candidate.Normalized,
		"row_found", s.Match.Asset != nil,
	)
	return true
}

func (e *Engine) lookup(candidate serial.Candidate) *inventory.Asset {
	if e.deps.Rows == nil {
		return nil
	}
	for _, key := range candidate.LookupKeys() {
		asset, err := e.deps.Rows.FindBySerial(key)
		if err == nil {
			return asset
		}
		if !errors.Is(err, inventory.ErrNotFound) {
			slog.Warn("Row lookup failed", "key", key, "error", err)
			return nil
		}
	}
	return nil
}
