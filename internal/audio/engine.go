package audio

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/iskarmel/musiccard/internal/clock"
)

// Tap receives the mix of channels routed through an analysis node.
type Tap interface {
	// Routed reports whether ch feeds the analysis node.
	Routed(ch *Channel) bool
	// Feed receives normalized mono samples of the routed mix.
	Feed(mono []float64)
}

// EndedFunc is called once when a playing channel reaches the end of its
// source. It runs outside the engine lock.
type EndedFunc func(ch *Channel)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Clock clock.Clock
	// AutoplayAllowed lets playback start without a user gesture.
	AutoplayAllowed bool
	// FrameBuffer is the capacity of the Frames channel. Defaults to 100.
	FrameBuffer int
	Logger      *slog.Logger
}

type attachment struct {
	ch      *Channel
	onEnded EndedFunc
}

// Engine mixes playing channels into 20ms PCM frames at real-time rate.
// It starts suspended; Resume starts the frame clock.
type Engine struct {
	clock    clock.Clock
	log      *slog.Logger
	autoplay bool
	frameCh  chan []int16

	mu       sync.Mutex
	attached []attachment
	tap      Tap
	pump     clock.Handle
	gen      uint64
	unlocked bool
	closed   bool
	frames   uint64

	buf [][]int16
}

// NewEngine creates a suspended engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		clock:    opts.Clock,
		log:      opts.Logger,
		autoplay: opts.AutoplayAllowed,
		frameCh:  make(chan []int16, opts.FrameBuffer),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each). Frames are
// dropped when nobody keeps up.
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// SetTap installs the analysis tap. Pass nil to remove it.
func (e *Engine) SetTap(t Tap) {
	e.mu.Lock()
	e.tap = t
	e.mu.Unlock()
}

// Suspended reports whether the frame clock is stopped.
func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pump == nil
}

// Resume starts the frame clock. A user gesture in ctx also lifts the
// autoplay restriction.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if IsUserGesture(ctx) {
		e.unlocked = true
	}
	if e.closed || e.pump != nil {
		return nil
	}
	e.gen++
	gen := e.gen
	e.pump = e.clock.Every(FrameDuration, func() { e.tick(gen) })
	e.log.Debug("audio clock resumed")
	return nil
}

// Suspend stops the frame clock. Channels keep their state.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopPumpLocked()
}

// Close stops the clock and detaches every channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopPumpLocked()
	e.attached = nil
	e.closed = true
}

func (e *Engine) stopPumpLocked() {
	if e.pump != nil {
		e.pump.Stop()
		e.pump = nil
		e.gen++
	}
}

// Start attaches ch (if needed) and moves it to Playing. Without a user
// gesture, and before any gesture was seen, it fails with ErrPlaybackBlocked
// unless autoplay is allowed.
func (e *Engine) Start(ctx context.Context, ch *Channel, onEnded EndedFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if IsUserGesture(ctx) {
		e.unlocked = true
	}
	if !e.autoplay && !e.unlocked {
		return ErrPlaybackBlocked
	}
	if err := ch.startPlaying(); err != nil {
		return err
	}

	for i, a := range e.attached {
		if a.ch == ch {
			e.attached[i].onEnded = onEnded
			return nil
		}
	}
	e.attached = append(e.attached, attachment{ch: ch, onEnded: onEnded})
	return nil
}

// Pause pauses ch, keeping its cursor.
func (e *Engine) Pause(ch *Channel) {
	ch.pause()
}

// Stop pauses ch and rewinds it to the start.
func (e *Engine) Stop(ch *Channel) {
	ch.rewind()
}

// Detach stops ch and removes it from the mix.
func (e *Engine) Detach(ch *Channel) {
	ch.rewind()
	e.mu.Lock()
	e.attached = slices.DeleteFunc(e.attached, func(a attachment) bool { return a.ch == ch })
	e.mu.Unlock()
}

// Attached reports whether ch is part of the mix.
func (e *Engine) Attached(ch *Channel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.attached {
		if a.ch == ch {
			return true
		}
	}
	return false
}

// FramesMixed returns the number of frames produced since creation.
func (e *Engine) FramesMixed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

type endedEvent struct {
	ch *Channel
	fn EndedFunc
}

func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.pump == nil {
		e.mu.Unlock()
		return
	}

	if cap(e.buf) < len(e.attached) {
		e.buf = make([][]int16, len(e.attached))
	}
	frames := e.buf[:0]
	gains := make([]float64, 0, len(e.attached))
	var routed [][]int16
	var routedGains []float64
	var ended []endedEvent

	for _, a := range e.attached {
		frame := make([]int16, FrameSamples)
		n, gain, done := a.ch.readFrame(frame)
		if n > 0 {
			frames = append(frames, frame[:n])
			gains = append(gains, gain)
			if e.tap != nil && e.tap.Routed(a.ch) {
				routed = append(routed, frame[:n])
				routedGains = append(routedGains, gain)
			}
		}
		if done {
			ended = append(ended, endedEvent{ch: a.ch, fn: a.onEnded})
		}
	}

	out := MixFrames(make([]int16, FrameSamples), frames, gains)
	e.frames++
	tap := e.tap
	var mono []float64
	if tap != nil && len(routed) > 0 {
		tapped := MixFrames(make([]int16, FrameSamples), routed, routedGains)
		mono = Mono(tapped, make([]float64, 0, FrameSize))
	}
	e.mu.Unlock()

	if mono != nil {
		tap.Feed(mono)
	}

	select {
	case e.frameCh <- out:
	default:
	}

	for _, ev := range ended {
		e.log.Debug("channel ended", "channel", ev.ch.Name(), "locator", ev.ch.Locator())
		if ev.fn != nil {
			ev.fn(ev.ch)
		}
	}
}
