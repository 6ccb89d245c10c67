package session

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/serial"
)

// PresentationContext names the UI surface that owns a session. The engine
// passes it through untouched.
type PresentationContext string

const (
	ContextPrimary  PresentationContext = "primary"
	ContextFallback PresentationContext = "fallback"
)

// ParseContext validates a presentation context name
func ParseContext(s string) (PresentationContext, error) {
	switch PresentationContext(s) {
	case ContextPrimary, ContextFallback:
		return PresentationContext(s), nil
	case "":
		return ContextPrimary, nil
	default:
		return "", fmt.Errorf("invalid presentation context %q", s)
	}
}

// State is a scan session lifecycle state
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateScanning     State = "scanning"
	StateMatchPending State = "match_pending"
)

// Lifecycle events
const (
	EventStart  = "start"
	EventReady  = "ready"
	EventFail   = "fail"
	EventMatch  = "match"
	EventResume = "resume"
	EventStop   = "stop"
)

// Match is a detection awaiting the user's decision
type Match struct {
	Result    decode.Result    `json:"result"`
	Candidate serial.Candidate `json:"candidate"`
	Asset     *inventory.Asset `json:"asset,omitempty"`
}

// Session is the state of one camera-open-to-camera-close scan
type Session struct {
	ID               string
	Context          PresentationContext
	Facing           camera.Facing
	Zoom             float64
	ZoomRange        *camera.ZoomRange
	ContinuousOwning bool
	LastHeartbeat    time.Time
	Match            *Match
	OpenedAt         time.Time

	ignored map[string]struct{}
	pending []decode.Result
	machine *fsm.FSM
}

// New creates an idle session
func New(id string, pctx PresentationContext, facing camera.Facing, openedAt time.Time) *Session {
	return &Session{
		ID:       id,
		Context:  pctx,
		Facing:   facing,
		OpenedAt: openedAt,
		ignored:  make(map[string]struct{}),
		machine: fsm.NewFSM(
			string(StateIdle),
			fsm.Events{
				{Name: EventStart, Src: []string{string(StateIdle)}, Dst: string(StateStarting)},
				{Name: EventReady, Src: []string{string(StateStarting)}, Dst: string(StateScanning)},
				{Name: EventFail, Src: []string{string(StateStarting)}, Dst: string(StateIdle)},
				{Name: EventMatch, Src: []string{string(StateScanning)}, Dst: string(StateMatchPending)},
				{Name: EventResume, Src: []string{string(StateMatchPending)}, Dst: string(StateScanning)},
				{
					Name: EventStop,
					Src:  []string{string(StateStarting), string(StateScanning), string(StateMatchPending)},
					Dst:  string(StateIdle),
				},
			},
			fsm.Callbacks{},
		),
	}
}

// Fire applies a lifecycle event.
func (s *Session) Fire(ctx context.Context, event string) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("session %s: %s from %s: %w", s.ID, event, s.machine.Current(), err)
	}
	return nil
}

// Can reports whether event is allowed in the current state.
func (s *Session) Can(event string) bool {
	return s.machine.Can(event)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Active reports whether the camera is open and the session is live.
func (s *Session) Active() bool {
	st := s.State()
	return st == StateScanning || st == StateMatchPending
}

// Paused reports whether a match is waiting for the user.
func (s *Session) Paused() bool {
	return s.State() == StateMatchPending
}

// Ignore marks a code as dismissed for the rest of the session.
func (s *Session) Ignore(code string) {
	if code == "" {
		return
	}
	s.ignored[code] = struct{}{}
}

// IsIgnored reports whether any of codes was dismissed.
func (s *Session) IsIgnored(codes ...string) bool {
	for _, c := range codes {
		if _, ok := s.ignored[c]; ok {
			return true
		}
	}
	return false
}

// Enqueue buffers an asynchronous result until the next tick.
func (s *Session) Enqueue(r decode.Result) {
	s.pending = append(s.pending, r)
}

// Drain returns and clears the buffered results in arrival order.
func (s *Session) Drain() []decode.Result {
	out := s.pending
	s.pending = nil
	return out
}

// ClearPending discards buffered results.
func (s *Session) ClearPending() {
	s.pending = nil
}

// PendingCount returns the number of buffered results.
func (s *Session) PendingCount() int {
	return len(s.pending)
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	ID               string              `json:"id"`
	Context          PresentationContext `json:"context"`
	State            State               `json:"state"`
	Active           bool                `json:"active"`
	Paused           bool                `json:"paused"`
	Facing           camera.Facing       `json:"facing"`
	Zoom             float64             `json:"zoom"`
	ZoomRange        *camera.ZoomRange   `json:"zoom_range,omitempty"`
	ContinuousOwning bool                `json:"continuous_owning"`
	IgnoredCount     int                 `json:"ignored_count"`
	PendingCount     int                 `json:"pending_count"`
	Match            *Match              `json:"match,omitempty"`
	OpenedAt         time.Time           `json:"opened_at"`
}

// Snapshot copies the session's current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:               s.ID,
		Context:          s.Context,
		State:            s.State(),
		Active:           s.Active(),
		Paused:           s.Paused(),
		Facing:           s.Facing,
		Zoom:             s.Zoom,
		ContinuousOwning: s.ContinuousOwning,
		IgnoredCount:     len(s.ignored),
		PendingCount:     len(s.pending),
		OpenedAt:         s.OpenedAt,
	}
	if s.ZoomRange != nil {
		r := *s.ZoomRange
		snap.ZoomRange = &r
	}
	if s.Match != nil {
		m := *s.Match
		snap.Match = &m
	}
	return snap
}
