package scanner

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/session"
)

var (
	// ErrNoSession is returned when an operation needs an open session
	ErrNoSession = errors.New("no active scan session")

	// ErrNoPendingMatch is returned by confirm and ignore outside match_pending
	ErrNoPendingMatch = errors.New("no pending match")

	// ErrRowNotFound is returned when confirming a match with no inventory row
	ErrRowNotFound = errors.New("no inventory row for match")

	// ErrEngineStopped is returned once Run has exited
	ErrEngineStopped = errors.New("scanner engine stopped")
)

const (
	defaultInitialDelay = 150 * time.Millisecond
	defaultInterval     = 400 * time.Millisecond
)

// Config tunes the detection scheduler
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration

	// Priority is the order tick backends run in. Continuous is never
	// listed; it schedules itself.
	Priority []decode.Source

	CloseAfterMatch bool

	// ContinuousLiveness is how long the continuous decoder may go without
	// a scan pass before tick backends resume. Zero runs every backend on
	// every tick.
	ContinuousLiveness time.Duration

	DefaultFacing camera.Facing
}

// CanvasBackend decodes a captured frame synchronously
type CanvasBackend interface {
	Attempt(ctx context.Context, img image.Image) (decode.Result, bool)
}

// HardwareBackend detects codes off the event loop
type HardwareBackend interface {
	AttemptAsync(ctx context.Context, img image.Image, deliver func(decode.Result)) error
}

// ContinuousBackend decodes the live feed on its own schedule
type ContinuousBackend interface {
	Start(src decode.FrameSource, deliver func(decode.Result), heartbeat func(time.Time)) error
	Pause()
	Resume()
	Stop()
}

// OCRBackend reads printed serials from a frame
type OCRBackend interface {
	Attempt(ctx context.Context, img image.Image) (decode.Result, bool, error)
}

// Rows is the inventory the match pipeline looks candidates up in
type Rows interface {
	FindBySerial(code string) (*inventory.Asset, error)
	MarkVerified(id string) (*inventory.Asset, error)
}

// Feedback signals a match to the user
type Feedback interface {
	Emit(frame image.Image)
}

// PreviewOverlay supplies a frame to show instead of the live feed
type PreviewOverlay interface {
	Latest() (image.Image, bool)
}

// Deps are the engine's collaborators. Any backend may be nil.
type Deps struct {
	Camera     *camera.Controller
	Canvas     CanvasBackend
	Hardware   HardwareBackend
	Continuous ContinuousBackend
	OCR        OCRBackend
	Rows       Rows
	Feedback   Feedback
	Overlay    PreviewOverlay
	NewID      func() string
}

// Engine owns the single scan session. All session state is touched only
// by the goroutine running Run; public methods and backend callbacks send
// it messages.
type Engine struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	mail    []func()
	notify  chan struct{}
	stopped bool
	done    chan struct{}

	// owned by the Run goroutine
	runCtx        context.Context
	facing        camera.Facing
	session       *session.Session
	handle        *camera.Handle
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	timer         *time.Timer
	seq           uint64
	hardwareDown  bool
}

// New creates an Engine. Call Run before using it.
func New(cfg Config, deps Deps) *Engine {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = []decode.Source{decode.SourceCanvas, decode.SourceHardware}
	}
	if cfg.DefaultFacing == "" {
		cfg.DefaultFacing = camera.FacingEnvironment
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	return &Engine{
		cfg:    cfg,
		deps:   deps,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		facing: cfg.DefaultFacing,
	}
}

// Run processes messages until ctx is cancelled, then closes any open
// session.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	slog.Info("Scanner engine started", "priority", e.cfg.Priority, "interval", e.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			e.teardown("engine stopped")
			e.mu.Lock()
			e.stopped = true
			e.mail = nil
			e.mu.Unlock()
			close(e.done)
			slog.Info("Scanner engine stopped")
			return nil
		case <-e.notify:
			for _, fn := range e.takeMail() {
				fn()
			}
		}
	}
}

// post queues fn for the event loop. It never blocks so backend goroutines
// can post while the loop waits on them.
func (e *Engine) post(fn func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.mail = append(e.mail, fn)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) takeMail() []func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	mail := e.mail
	e.mail = nil
	return mail
}

// call runs fn on the event loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrEngineStopped
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenSession closes any open session, acquires the camera and starts
// scanning.
func (e *Engine) OpenSession(ctx context.Context, pctx session.PresentationContext) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if cerr := e.call(ctx, func() { snap, err = e.openSession(ctx, pctx) }); cerr != nil {
		return session.Snapshot{}, cerr
	}
	return snap, err
}

// CloseSession stops scanning and releases the camera. Closing with no
// open session is a no-op.
func (e *Engine) CloseSession(ctx context.Context) error {
	return e.call(ctx, func() { e.teardown("closed") })
}

// ConfirmMatch marks the pending match's row verified and resumes scanning,
// or closes the session when configured to.
func (e *Engine) ConfirmMatch(ctx context.Context) (*inventory.Asset, error) {
	var (
		asset *inventory.Asset
		err   error
	)
	if cerr := e.call(ctx, func() { asset, err = e.confirmMatch() }); cerr != nil {
		return nil, cerr
	}
	return asset, err
}

// IgnoreMatch dismisses the pending match for the rest of the session.
func (e *Engine) IgnoreMatch(ctx context.Context) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if cerr := e.call(ctx, func() { snap, err = e.ignoreMatch() }); cerr != nil {
		return session.Snapshot{}, cerr
	}
	return snap, err
}

// SetFacingMode changes the camera used by this and later sessions.
func (e *Engine) SetFacingMode(ctx context.Context, facing camera.Facing) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if cerr := e.call(ctx, func() { snap, err = e.setFacingMode(ctx, facing) }); cerr != nil {
		return session.Snapshot{}, cerr
	}
	return snap, err
}

// SetZoom applies a zoom level, clamped to the camera's range.
func (e *Engine) SetZoom(ctx context.Context, value float64) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if cerr := e.call(ctx, func() { snap, err = e.setZoom(value) }); cerr != nil {
		return session.Snapshot{}, cerr
	}
	return snap, err
}

// Snapshot returns the open session's state.
func (e *Engine) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	cerr := e.call(ctx, func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		snap = e.session.Snapshot()
	})
	if cerr != nil {
		return session.Snapshot{}, cerr
	}
	return snap, err
}

// Preview returns the frame to show the user: the match flash while it
// lasts, otherwise the live camera frame.
func (e *Engine) Preview(ctx context.Context) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	cerr := e.call(ctx, func() {
		if e.handle == nil {
			err = ErrNoSession
			return
		}
		if e.deps.Overlay != nil {
			if flash, ok := e.deps.Overlay.Latest(); ok {
				img = flash
				return
			}
		}
		img, err = e.handle.Frame()
	})
	if cerr != nil {
		return nil, cerr
	}
	return img, err
}

// Facing returns the facing mode the next session will use.
func (e *Engine) Facing(ctx context.Context) (camera.Facing, error) {
	var f camera.Facing
	if err := e.call(ctx, func() { f = e.facing }); err != nil {
		return "", err
	}
	return f, nil
}
