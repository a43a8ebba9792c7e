// Package routing owns the process-wide analysis graph that lets session
// channels feed the spectral visualizer.
package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/iskarmel/musiccard/internal/audio"
)

// ErrAlreadyConnected is returned by Connect for a channel that is already
// routed through the analysis tap. Callers treat it as success.
var ErrAlreadyConnected = errors.New("routing: channel already connected")

// ErrUnavailable is returned by Connect when the analysis tap is disabled.
var ErrUnavailable = errors.New("routing: analysis tap unavailable")

// Options configures the analyser.
type Options struct {
	// FFTSize must be a power of two in [32, 32768]. Defaults to 64.
	FFTSize int
	// Smoothing is the time constant averaging consecutive snapshots.
	// Defaults to 0.8.
	Smoothing   float64
	MinDecibels float64 // defaults to -100
	MaxDecibels float64 // defaults to -30
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.FFTSize == 0 {
		o.FFTSize = 64
	}
	if o.Smoothing == 0 {
		o.Smoothing = 0.8
	}
	if o.MinDecibels == 0 && o.MaxDecibels == 0 {
		o.MinDecibels, o.MaxDecibels = -100, -30
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Graph routes channels through an FFT analyser. It is built lazily by
// Ensure and never rebuilt.
type Graph struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	ensured   bool
	available bool
	connected map[*audio.Channel]struct{}

	fft      *fourier.FFT
	ring     []float64
	ringPos  int
	smoothed []float64
}

// New creates an unconstructed graph.
func New(opts Options) *Graph {
	opts.defaults()
	return &Graph{
		opts:      opts,
		log:       opts.Logger,
		connected: make(map[*audio.Channel]struct{}),
	}
}

// Ensure builds the analyser on first call and reports whether the tap is
// available. Later calls return the first decision regardless of platform.
func (g *Graph) Ensure(p Platform) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured {
		return g.available
	}
	g.ensured = true

	if !p.Supported() {
		g.log.Info("analysis tap disabled for platform", "user_agent", p.UserAgent)
		return false
	}
	if err := g.buildLocked(); err != nil {
		g.log.Warn("analysis tap construction failed", "error", err)
		return false
	}
	g.available = true
	g.log.Debug("analysis tap ready", "fft_size", g.opts.FFTSize, "bins", g.opts.FFTSize/2)
	return true
}

func (g *Graph) buildLocked() error {
	n := g.opts.FFTSize
	if n < 32 || n > 32768 || n&(n-1) != 0 {
		return fmt.Errorf("fft size %d: must be a power of two in [32, 32768]", n)
	}
	if g.opts.Smoothing < 0 || g.opts.Smoothing >= 1 {
		return fmt.Errorf("smoothing %.2f: must be in [0, 1)", g.opts.Smoothing)
	}
	if g.opts.MinDecibels >= g.opts.MaxDecibels {
		return fmt.Errorf("decibel range [%.0f, %.0f] is empty", g.opts.MinDecibels, g.opts.MaxDecibels)
	}
	g.fft = fourier.NewFFT(n)
	g.ring = make([]float64, n)
	g.smoothed = make([]float64, n/2)
	return nil
}

// Ensured reports whether Ensure has run.
func (g *Graph) Ensured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensured
}

// AnalysisTapAvailable reports whether channels can feed the visualizer.
func (g *Graph) AnalysisTapAvailable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// FrequencyBinCount returns half the FFT size, or 0 when unavailable.
func (g *Graph) FrequencyBinCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.available {
		return 0
	}
	return g.opts.FFTSize / 2
}

// Connect routes ch through the analyser. A channel is connected once for
// its lifetime.
func (g *Graph) Connect(ch *audio.Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.available {
		return ErrUnavailable
	}
	if _, ok := g.connected[ch]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, ch.Name())
	}
	g.connected[ch] = struct{}{}
	return nil
}

// Routed reports whether ch feeds the analyser.
func (g *Graph) Routed(ch *audio.Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.connected[ch]
	return ok
}

// Feed appends mono samples of the routed mix to the analysis window.
func (g *Graph) Feed(mono []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.available {
		return
	}
	size := len(g.ring)
	if len(mono) > size {
		mono = mono[len(mono)-size:]
	}
	for _, s := range mono {
		g.ring[g.ringPos] = s
		g.ringPos = (g.ringPos + 1) % size
	}
}

// Magnitudes computes a fresh byte frequency snapshot from the most recent
// window of routed audio. It returns nil when the tap is unavailable.
func (g *Graph) Magnitudes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.available {
		return nil
	}

	n := len(g.ring)
	seq := make([]float64, n)
	for i := range n {
		seq[i] = g.ring[(g.ringPos+i)%n]
	}
	window.Blackman(seq)
	coeffs := g.fft.Coefficients(nil, seq)

	out := make([]byte, n/2)
	tau := g.opts.Smoothing
	span := g.opts.MaxDecibels - g.opts.MinDecibels
	for k := range out {
		mag := cmplxAbs(coeffs[k]) / float64(n)
		g.smoothed[k] = tau*g.smoothed[k] + (1-tau)*mag

		db := g.opts.MinDecibels
		if g.smoothed[k] > 0 {
			db = 20 * math.Log10(g.smoothed[k])
		}
		v := 255 * (db - g.opts.MinDecibels) / span
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		out[k] = byte(v)
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

var (
	defaultMu   sync.Mutex
	defaultOpts Options
	defaultG    *Graph
)

// Default returns the process-wide graph, creating it on first use.
func Default() *Graph {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultG == nil {
		defaultG = New(defaultOpts)
	}
	return defaultG
}

// ConfigureDefault sets the options used when the process-wide graph is next
// created. A graph already handed out by Default stays in place, since
// channels may be connected to it; the options then apply after ResetDefault.
func ConfigureDefault(opts Options) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOpts = opts
	if defaultG != nil {
		defaultG.log.Warn("default analysis graph already built, options deferred until reset")
	}
}

// ResetDefault drops the process-wide graph so the next Default call builds a
// fresh one. Intended for test teardown.
func ResetDefault() {
	defaultMu.Lock()
	defaultG = nil
	defaultMu.Unlock()
}
