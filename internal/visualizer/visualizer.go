// Package visualizer renders frequency magnitude snapshots as bar graphs at
// a fixed frame rate.
package visualizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/clock"
)

// DefaultFrameInterval is the display cadence (60 Hz).
const DefaultFrameInterval = time.Second / 60

// BarGap is the space between adjacent bars, in target units.
const BarGap = 1.0

// Source provides magnitude snapshots.
type Source interface {
	AnalysisTapAvailable() bool
	// Magnitudes returns one byte (0-255) per frequency bin.
	Magnitudes() []byte
}

// Bar is one drawn rectangle, anchored at the bottom of the target.
type Bar struct {
	X, Width, Height float64
}

// RenderTarget is a drawing surface.
type RenderTarget interface {
	Size() (width, height float64)
	Clear()
	DrawBar(b Bar)
}

// Flusher is implemented by targets that present a frame once all its bars
// are drawn.
type Flusher interface {
	Flush()
}

// Layout computes the bars for one snapshot on a width×height surface.
func Layout(mags []byte, width, height float64) []Bar {
	n := len(mags)
	if n == 0 || width <= 0 || height <= 0 {
		return nil
	}
	barWidth := (width - BarGap*float64(n-1)) / float64(n)
	if barWidth <= 0 {
		return nil
	}
	bars := make([]Bar, n)
	x := 0.0
	for i, m := range mags {
		bars[i] = Bar{X: x, Width: barWidth, Height: float64(m) / 255 * height}
		x += barWidth + BarGap
	}
	return bars
}

// Options configures a Visualizer.
type Options struct {
	Clock         clock.Clock
	FrameInterval time.Duration
	Logger        *slog.Logger
}

// Visualizer runs at most one render loop at a time.
type Visualizer struct {
	clock    clock.Clock
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	handle clock.Handle
	gen    uint64
	src    Source
	target RenderTarget
	frames uint64
	starts uint64
}

// New creates a stopped visualizer.
func New(opts Options) *Visualizer {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Visualizer{clock: opts.Clock, interval: opts.FrameInterval, log: opts.Logger}
}

// Start begins rendering src onto target every frame. A running loop is
// stopped first. When src has no analysis tap, Start does nothing.
func (v *Visualizer) Start(src Source, target RenderTarget) {
	if src == nil || target == nil || !src.AnalysisTapAvailable() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle != nil {
		v.handle.Stop()
		v.handle = nil
		v.gen++
	}
	v.src = src
	v.target = target
	v.starts++

	v.gen++
	gen := v.gen
	v.handle = v.clock.Every(v.interval, func() { v.frame(gen) })
	v.log.Debug("visualizer started", "interval", v.interval)
}

// Stop cancels the render loop and clears the target. Stopping a stopped
// visualizer is a no-op.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle == nil {
		return
	}
	v.handle.Stop()
	v.handle = nil
	v.gen++
	v.target.Clear()
	if f, ok := v.target.(Flusher); ok {
		f.Flush()
	}
	v.src, v.target = nil, nil
}

// Running reports whether a render loop is active.
func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handle != nil
}

// Frames returns the number of frames rendered.
func (v *Visualizer) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// Starts returns how many render loops were started.
func (v *Visualizer) Starts() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.starts
}

func (v *Visualizer) frame(gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle == nil || v.gen != gen {
		return
	}

	w, ht := v.target.Size()
	v.target.Clear()
	for _, b := range Layout(v.src.Magnitudes(), w, ht) {
		v.target.DrawBar(b)
	}
	if f, ok := v.target.(Flusher); ok {
		f.Flush()
	}
	v.frames++
}
