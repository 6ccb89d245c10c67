package decode

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/liyue201/goqr"
)

// StreamDecoder schedules its own detection loop against a live source and
// reports every decoded payload through onResult. onPass is called after
// each completed scan pass, found or not.
type StreamDecoder interface {
	Start(src FrameSource, onResult func(payload string), onPass func()) error
	Stop()
}

// GoQRStream is a StreamDecoder built on goqr
type GoQRStream struct {
	Interval time.Duration
	// Cooldown suppresses the same payload reported again within this window.
	Cooldown time.Duration

	recognize func(image.Image) ([]string, error)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewGoQRStream creates a new GoQRStream
func NewGoQRStream(interval, cooldown time.Duration) *GoQRStream {
	return &GoQRStream{Interval: interval, Cooldown: cooldown, recognize: recognizeGoQR}
}

func recognizeGoQR(img image.Image) ([]string, error) {
	codes, err := goqr.Recognize(img)
	if err != nil {
		return nil, err
	}
	payloads := make([]string, 0, len(codes))
	for _, c := range codes {
		payloads = append(payloads, string(c.Payload))
	}
	return payloads, nil
}

// Start launches the scan loop.
func (g *GoQRStream) Start(src FrameSource, onResult func(string), onPass func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return errors.New("stream decoder already running")
	}
	if g.Interval <= 0 {
		return fmt.Errorf("invalid scan interval %s", g.Interval)
	}

	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.loop(src, onResult, onPass, g.stop, g.done)
	return nil
}

func (g *GoQRStream) loop(src FrameSource, onResult func(string), onPass func(), stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	var (
		last   string
		lastAt time.Time
	)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		img, err := src.Frame()
		if err != nil {
			slog.Debug("Continuous decoder has no frame", "error", err)
			continue
		}

		payloads, err := g.recognize(img)
		if err == nil {
			for _, p := range payloads {
				if p == "" {
					continue
				}
				if p == last && time.Since(lastAt) < g.Cooldown {
					continue
				}
				last, lastAt = p, time.Now()
				onResult(p)
			}
		}
		onPass()
	}
}

// Stop ends the scan loop and waits for it to exit. Stopping twice is a no-op.
func (g *GoQRStream) Stop() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Continuous adapts a StreamDecoder into a scheduler backend. Callbacks that
// arrive while paused or after Stop are dropped.
type Continuous struct {
	decoder StreamDecoder
	now     func() time.Time

	mu      sync.Mutex
	gen     uint64
	running bool
	paused  bool
}

// NewContinuous creates a new Continuous backend. A nil decoder is unavailable.
func NewContinuous(decoder StreamDecoder) *Continuous {
	return &Continuous{decoder: decoder, now: time.Now}
}

// Start drives the decoder against src. deliver receives each result and
// heartbeat is called after every scan pass.
func (c *Continuous) Start(src FrameSource, deliver func(Result), heartbeat func(time.Time)) error {
	if c == nil || c.decoder == nil {
		return ErrBackendUnavailable
	}

	c.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.running = true
	c.paused = false
	c.mu.Unlock()

	err := c.decoder.Start(src,
		func(payload string) {
			if !c.live(gen) {
				return
			}
			deliver(Result{
				Payload:   payload,
				Source:    SourceContinuous,
				Symbology: "QR_CODE",
				Timestamp: c.now(),
			})
		},
		func() {
			if c.live(gen) && heartbeat != nil {
				heartbeat(c.now())
			}
		},
	)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (c *Continuous) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && !c.paused && c.gen == gen
}

// Pause drops callbacks until Resume.
func (c *Continuous) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume lets callbacks through again.
func (c *Continuous) Resume() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Running reports whether the decoder was started and not stopped.
func (c *Continuous) Running() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop stops the decoder. It is safe to call when not running.
func (c *Continuous) Stop() {
	if c == nil || c.decoder == nil {
		return
	}
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	c.gen++
	c.mu.Unlock()

	if wasRunning {
		c.decoder.Stop()
	}
}
