package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/session"
)

func (e *Engine) openSession(ctx context.Context, pctx session.PresentationContext) (session.Snapshot, error) {
	e.teardown("replaced")

	s := session.New(e.deps.NewID(), pctx, e.facing, time.Now())
	if err := s.Fire(ctx, session.EventStart); err != nil {
		return session.Snapshot{}, err
	}
	e.session = s
	e.hardwareDown = false

	h, err := e.deps.Camera.Acquire(ctx, e.facing)
	if err != nil {
		slog.Warn("Camera acquisition failed", "session", s.ID, "facing", e.facing, "error", err)
		s.Fire(ctx, session.EventFail)
		e.session = nil
		return session.Snapshot{}, err
	}
	e.handle = h
	e.sessionCtx, e.cancelSession = context.WithCancel(e.runCtx)
	e.applyCapabilities(s)

	if err := s.Fire(ctx, session.EventReady); err != nil {
		e.teardown("startup failed")
		return session.Snapshot{}, err
	}
	e.startContinuous(s)
	e.schedule(e.cfg.InitialDelay)

	slog.Info("Scan session opened", "session", s.ID, "context", s.Context, "facing", s.Facing)
	return s.Snapshot(), nil
}

func (e *Engine) applyCapabilities(s *session.Session) {
	caps := e.deps.Camera.QueryCapabilities(e.handle)
	s.ZoomRange = caps.Zoom
	s.Zoom = 0
	if caps.Zoom != nil {
		s.Zoom = caps.Zoom.Min
	}
}

// teardown cancels the tick timer, stops the continuous decoder and
// releases the camera, in that order. It is a no-op without a session.
func (e *Engine) teardown(reason string) {
	s := e.session
	if s == nil {
		return
	}

	e.cancelTimer()
	if e.deps.Continuous != nil {
		e.deps.Continuous.Stop()
	}
	if e.cancelSession != nil {
		e.cancelSession()
		e.cancelSession = nil
	}
	if err := e.deps.Camera.Release(e.handle); err != nil {
		slog.Warn("Camera release failed", "session", s.ID, "error", err)
	}
	e.handle = nil

	if s.Can(session.EventStop) {
		if err := s.Fire(context.Background(), session.EventStop); err != nil {
			slog.Warn("Session stop failed", "session", s.ID, "error", err)
		}
	}
	s.ClearPending()
	e.session = nil
	slog.Info("Scan session closed", "session", s.ID, "reason", reason)
}

func (e *Engine) confirmMatch() (*inventory.Asset, error) {
	s := e.session
	if s == nil {
		return nil, ErrNoSession
	}
	if !s.Paused() || s.Match == nil {
		return nil, ErrNoPendingMatch
	}
	if s.Match.Asset == nil {
		return nil, fmt.Errorf("%w: %s", ErrRowNotFound, s.Match.Candidate.Normalized)
	}

	asset, err := e.deps.Rows.MarkVerified(s.Match.Asset.ID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrRowNotFound, err)
		}
		return nil, fmt.Errorf("marking verified: %w", err)
	}
	slog.Info("Match confirmed", "session", s.ID, "asset", asset.ID, "serial", asset.Serial)

	s.Match = nil
	if e.cfg.CloseAfterMatch {
		e.teardown("closed after match")
		return asset, nil
	}
	e.resume(s)
	return asset, nil
}

func (e *Engine) ignoreMatch() (session.Snapshot, error) {
	s := e.session
	if s == nil {
		return session.Snapshot{}, ErrNoSession
	}
	if !s.Paused() || s.Match == nil {
		return session.Snapshot{}, ErrNoPendingMatch
	}

	s.Ignore(s.Match.Result.Payload)
	s.Ignore(s.Match.Candidate.Normalized)
	slog.Info("Match ignored", "session", s.ID, "payload", s.Match.Result.Payload)

	s.Match = nil
	e.resume(s)
	return s.Snapshot(), nil
}

// resume returns a paused session to scanning.
func (e *Engine) resume(s *session.Session) {
	if err := s.Fire(e.sessionCtx, session.EventResume); err != nil {
		slog.Warn("Session resume failed", "session", s.ID, "error", err)
		return
	}
	s.ClearPending()
	if e.deps.Continuous != nil {
		e.deps.Continuous.Resume()
	}
	if s.ContinuousOwning {
		s.LastHeartbeat = time.Now()
	}
	e.schedule(e.cfg.Interval)
}

func (e *Engine) setFacingMode(ctx context.Context, facing camera.Facing) (session.Snapshot, error) {
	e.facing = facing
	s := e.session
	if s == nil {
		return session.Snapshot{Facing: facing, State: session.StateIdle}, nil
	}
	if !s.Active() || s.Facing == facing {
		s.Facing = facing
		return s.Snapshot(), nil
	}

	e.cancelTimer()
	if e.deps.Continuous != nil {
		e.deps.Continuous.Stop()
	}
	if err := e.deps.Camera.Release(e.handle); err != nil {
		slog.Warn("Camera release failed", "session", s.ID, "error", err)
	}
	e.handle = nil

	h, err := e.deps.Camera.Acquire(ctx, facing)
	if err != nil {
		slog.Warn("Camera switch failed", "session", s.ID, "facing", facing, "error", err)
		e.teardown("camera switch failed")
		return session.Snapshot{}, err
	}
	e.handle = h
	s.Facing = facing
	e.applyCapabilities(s)

	e.startContinuous(s)
	if s.Paused() {
		if e.deps.Continuous != nil {
			e.deps.Continuous.Pause()
		}
	} else {
		e.schedule(e.cfg.Interval)
	}
	slog.Info("Camera switched", "session", s.ID, "facing", facing)
	return s.Snapshot(), nil
}

func (e *Engine) setZoom(value float64) (session.Snapshot, error) {
	s := e.session
	if s == nil || !s.Active() {
		return session.Snapshot{}, ErrNoSession
	}
	applied, supported, err := e.deps.Camera.SetZoom(e.handle, value)
	if err != nil {
		return session.Snapshot{}, err
	}
	if supported {
		s.Zoom = applied
	}
	return s.Snapshot(), nil
}

func (e *Engine) startContinuous(s *session.Session) {
	s.ContinuousOwning = false
	if e.deps.Continuous == nil {
		return
	}

	id := s.ID
	err := e.deps.Continuous.Start(e.handle,
		func(r decode.Result) {
			e.post(func() { e.asyncResult(id, r) })
		},
		func(t time.Time) {
			e.post(func() { e.heartbeat(id, t) })
		},
	)
	if err != nil {
		if errors.Is(err, decode.ErrBackendUnavailable) {
			slog.Info("Continuous decoder unavailable", "session", id, "error", err)
		} else {
			slog.Warn("Continuous decoder failed to start", "session", id, "error", err)
		}
		return
	}
	if e.cfg.ContinuousLiveness > 0 {
		s.ContinuousOwning = true
		s.LastHeartbeat = time.Now()
	}
}
