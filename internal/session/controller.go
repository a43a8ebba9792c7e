// Package session implements the playback state machine of one music card:
// a background track, an optional narration ducking it, and the spectrum
// visualizer fed by whichever of them is audible.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/audio"
	"github.com/iskarmel/musiccard/internal/envelope"
	"github.com/iskarmel/musiccard/internal/routing"
	"github.com/iskarmel/musiccard/internal/visualizer"
)

// Ducking levels used around a narration.
const (
	DefaultDuckLevel    = 0.15
	DefaultDuckTime     = 500 * time.Millisecond
	DefaultRestoreLevel = 1.0
	DefaultRestoreTime  = 1000 * time.Millisecond
)

// Options wires a Controller to its collaborators. Engine and Decoder are
// required.
type Options struct {
	Engine     *audio.Engine
	Decoder    audio.Decoder
	Revoker    audio.Revoker
	Graph      *routing.Graph // defaults to routing.Default()
	Envelopes  *envelope.Scheduler
	Visualizer *visualizer.Visualizer
	Target     visualizer.RenderTarget
	// Platform is used for the first routing decision when the context of
	// Play carries none.
	Platform routing.Platform

	DuckLevel    float64
	DuckTime     time.Duration
	RestoreLevel float64
	RestoreTime  time.Duration

	Logger *slog.Logger
	// OnStateChange is called with the new snapshot after every transition.
	// It runs with the session locked and must not call back into it.
	OnStateChange func(Snapshot)
	// OnError receives errors of commands that were queued while loading.
	OnError func(op string, err error)
}

type command struct {
	name    string
	ctx     context.Context
	run     func(ctx context.Context) error
	discard func()
}

// Controller owns the background and narration channels of one session and
// serializes transport commands against them.
type Controller struct {
	engine   *audio.Engine
	dec      audio.Decoder
	revoker  audio.Revoker
	graph    *routing.Graph
	env      *envelope.Scheduler
	vis      *visualizer.Visualizer
	platform routing.Platform
	log      *slog.Logger

	duckLevel, restoreLevel float64
	duckTime, restoreTime   time.Duration
	onState                 func(Snapshot)
	onError                 func(string, error)

	bg   *audio.Channel
	narr *audio.Channel

	mu        sync.Mutex
	state     State
	epoch     uint64 // bumped by every load and reset
	narrReq   uint64 // bumped by every narration request or discard
	narrGen   uint64 // bumped by every narration start or discard
	narrating bool
	source    string // the card's own track
	locator   string // what the background plays, possibly a mix of source
	melody    string
	queued    *command
	target    visualizer.RenderTarget
}

// New creates an idle controller.
func New(opts Options) *Controller {
	if opts.Graph == nil {
		opts.Graph = routing.Default()
	}
	if opts.Envelopes == nil {
		opts.Envelopes = envelope.NewScheduler(nil, 0)
	}
	if opts.Visualizer == nil {
		opts.Visualizer = visualizer.New(visualizer.Options{})
	}
	if opts.Platform.UserAgent == "" {
		opts.Platform = routing.Headless
	}
	if opts.DuckLevel == 0 {
		opts.DuckLevel = DefaultDuckLevel
	}
	if opts.DuckTime == 0 {
		opts.DuckTime = DefaultDuckTime
	}
	if opts.RestoreLevel == 0 {
		opts.RestoreLevel = DefaultRestoreLevel
	}
	if opts.RestoreTime == 0 {
		opts.RestoreTime = DefaultRestoreTime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		engine:       opts.Engine,
		dec:          opts.Decoder,
		revoker:      opts.Revoker,
		graph:        opts.Graph,
		env:          opts.Envelopes,
		vis:          opts.Visualizer,
		platform:     opts.Platform,
		log:          opts.Logger,
		duckLevel:    opts.DuckLevel,
		duckTime:     opts.DuckTime,
		restoreLevel: opts.RestoreLevel,
		restoreTime:  opts.RestoreTime,
		onState:      opts.OnStateChange,
		onError:      opts.OnError,
		bg:           audio.NewChannel("background", opts.Revoker),
		narr:         audio.NewChannel("narration", opts.Revoker),
		target:       opts.Target,
	}
	c.engine.SetTap(c.graph)
	return c
}

// Background returns the background channel.
func (c *Controller) Background() *audio.Channel { return c.bg }

// Narration returns the narration channel.
func (c *Controller) Narration() *audio.Channel { return c.narr }

// SetTarget replaces the render target used by the next Play.
func (c *Controller) SetTarget(t visualizer.RenderTarget) {
	c.mu.Lock()
	c.target = t
	c.mu.Unlock()
}

// State returns the transport state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsPlaying reports whether the session is audible.
func (c *Controller) IsPlaying() bool {
	return c.State() == StatePlaying
}

// Narrating reports whether a narration is active.
func (c *Controller) Narrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.narrating
}

// CurrentMelodyLabel returns the label of the loaded card's track.
func (c *Controller) CurrentMelodyLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.melody
}

// Locator returns the locator the background currently plays.
func (c *Controller) Locator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locator
}

// Source returns the locator of the loaded card's track. Unlike Locator it
// never names a premixed replacement.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Snapshot returns the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:            c.state,
		StateName:        c.state.String(),
		Playing:          c.state == StatePlaying,
		Narrating:        c.narrating,
		MelodyLabel:      c.melody,
		Source:           c.source,
		Locator:          c.locator,
		BackgroundVolume: c.bg.Volume(),
		NarrationVolume:  c.narr.Volume(),
		Visualizing:      c.vis.Running(),
	}
	if c.queued != nil {
		s.Queued = c.queued.name
	}
	return s
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		c.log.Debug("session state", "from", c.state.String(), "to", s.String())
	}
	c.state = s
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	if c.onState != nil {
		c.onState(c.snapshotLocked())
	}
}

// LoadCard tears down the current session and loads locator as the new
// background. It returns once the source is decoded (Ready) or failed
// (Idle, wrapping ErrLoad). A command queued meanwhile runs before LoadCard
// returns.
func (c *Controller) LoadCard(ctx context.Context, locator, melodyLabel string) error {
	c.mu.Lock()
	c.teardownLocked()
	c.source = locator
	c.locator = locator
	c.melody = melodyLabel
	epoch := c.beginLoadLocked()
	c.mu.Unlock()

	c.log.Info("loading card", "locator", locator, "melody", melodyLabel)
	return c.load(ctx, epoch, locator, nil)
}

// Play starts or resumes the background. From Idle with a known source it
// reloads first. While loading, the request is queued.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateLoading:
		c.queueLocked(ctx, "play", c.Play, nil)
		c.mu.Unlock()
		return nil
	case StateIdle:
		if c.locator == "" {
			c.mu.Unlock()
			return fmt.Errorf("%w: no card loaded", ErrInvalidState)
		}
		epoch := c.beginLoadLocked()
		locator := c.locator
		c.mu.Unlock()
		return c.load(ctx, epoch, locator, func() error { return c.playLocked(ctx) })
	}
	defer c.mu.Unlock()
	return c.playLocked(ctx)
}

// Pause pauses every playing channel and stops the visualizer.
func (c *Controller) Pause() error {
	return c.pause(context.Background())
}

func (c *Controller) pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateLoading:
		c.queueLocked(ctx, "pause", c.pause, nil)
		return nil
	case StatePaused, StateReady:
		return nil
	case StatePlaying:
	default:
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, c.state)
	}

	c.engine.Pause(c.bg)
	if c.narrating {
		c.engine.Pause(c.narr)
	}
	c.vis.Stop()
	c.setStateLocked(StatePaused)
	return nil
}

// Narrate plays locator over the background, ducking the background while
// it lasts and restoring it when the narration ends on its own. From Ready
// it starts playback first. A narration already running is replaced.
func (c *Controller) Narrate(ctx context.Context, locator string) error {
	c.mu.Lock()
	switch c.state {
	case StateLoading:
		c.queueLocked(ctx, "narrate", func(ctx context.Context) error {
			return c.Narrate(ctx, locator)
		}, func() { c.revoke(locator) })
		c.mu.Unlock()
		return nil
	case StateReady, StatePlaying:
	default:
		state := c.state
		c.mu.Unlock()
		c.revoke(locator)
		return fmt.Errorf("%w: narrate while %s", ErrInvalidState, state)
	}
	epoch := c.epoch
	c.narrReq++
	req := c.narrReq
	running := ""
	if c.narrating {
		running = c.narr.Locator()
	}
	c.mu.Unlock()

	err := c.narr.Replace(ctx, c.dec, locator)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.narrReq != req {
		// An installed source is released by whoever superseded it.
		if err != nil {
			c.revoke(locator)
		}
		return fmt.Errorf("%w: narration %s", ErrSuperseded, locator)
	}
	if err != nil {
		c.revoke(locator)
		// The running narration keeps its end callback unless a superseded
		// request displaced it meanwhile.
		if c.narrating && c.narr.Locator() != running {
			c.finishNarrationLocked()
		}
		return fmt.Errorf("%w: narration: %w", ErrLoad, err)
	}

	// Replace stopped any previous narration; its end callback is stale now.
	c.narrGen++
	gen := c.narrGen
	c.narrating = false
	implicit := c.state == StateReady
	if implicit {
		if err := c.playLocked(ctx); err != nil {
			c.discardNarrationLocked()
			return err
		}
	}
	if c.state != StatePlaying {
		c.discardNarrationLocked()
		return fmt.Errorf("%w: narrate while %s", ErrInvalidState, c.state)
	}

	c.connectLocked(c.narr)
	if err := c.engine.Start(ctx, c.narr, c.narrationEnded(epoch, gen)); err != nil {
		c.discardNarrationLocked()
		if implicit {
			c.undoImplicitPlayLocked()
		}
		return err
	}
	c.narrating = true
	c.env.Schedule(c.bg, c.duckLevel, c.duckTime)
	c.log.Info("narration started", "locator", locator)
	c.notifyLocked()
	return nil
}

// ReplaceWithMix swaps the background source for a premixed track that
// already contains the narration. Envelopes are skipped and the volume is
// pinned to full scale.
func (c *Controller) ReplaceWithMix(ctx context.Context, locator string) error {
	c.mu.Lock()
	switch c.state {
	case StateLoading:
		c.queueLocked(ctx, "replace", func(ctx context.Context) error {
			return c.ReplaceWithMix(ctx, locator)
		}, func() { c.revoke(locator) })
		c.mu.Unlock()
		return nil
	case StateReady, StatePlaying, StatePaused:
	default:
		state := c.state
		c.mu.Unlock()
		c.revoke(locator)
		return fmt.Errorf("%w: replace while %s", ErrInvalidState, state)
	}
	epoch := c.epoch
	c.mu.Unlock()

	err := c.bg.Replace(ctx, c.dec, locator)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return fmt.Errorf("%w: mix %s", ErrSuperseded, locator)
	}
	if err != nil {
		c.revoke(locator)
		return fmt.Errorf("%w: mix: %w", ErrLoad, err)
	}

	c.env.Cancel(c.bg)
	c.bg.SetVolume(1)
	if c.narrating {
		c.discardNarrationLocked()
	}
	c.locator = locator
	c.vis.Stop()
	c.setStateLocked(StateReady)
	c.log.Info("background replaced with mix", "locator", locator)
	return c.playLocked(ctx)
}

// Reset stops everything, discards the narration and any queued command,
// and returns to Idle. The card's source is kept so Play reloads it.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.env.Cancel(c.bg)
	c.discardNarrationLocked()
	c.engine.Detach(c.bg)
	c.bg.Unload()
	c.bg.SetVolume(1)
	c.vis.Stop()
	c.dropQueuedLocked()
	c.setStateLocked(StateIdle)
}

// Close resets the session and releases the background source.
func (c *Controller) Close() {
	c.Reset()
	c.mu.Lock()
	c.bg.Release()
	c.source = ""
	c.locator = ""
	c.mu.Unlock()
}

// teardownLocked removes everything belonging to the previous card.
func (c *Controller) teardownLocked() {
	c.env.Cancel(c.bg)
	c.discardNarrationLocked()
	c.engine.Detach(c.bg)
	c.bg.SetVolume(1)
	c.vis.Stop()
	c.dropQueuedLocked()
}

func (c *Controller) beginLoadLocked() uint64 {
	c.epoch++
	c.setStateLocked(StateLoading)
	return c.epoch
}

// load decodes the background outside the lock, then applies then and any
// queued command if the session was not replaced meanwhile.
func (c *Controller) load(ctx context.Context, epoch uint64, locator string, then func() error) error {
	err := c.bg.Load(ctx, c.dec, locator)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return fmt.Errorf("%w: load %s", ErrSuperseded, locator)
	}
	if err != nil {
		c.dropQueuedLocked()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.log.Warn("card load failed", "locator", locator, "error", err)
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	c.setStateLocked(StateReady)
	var thenErr error
	if then != nil {
		thenErr = then()
	}
	q := c.queued
	c.queued = nil
	c.mu.Unlock()

	if q != nil {
		c.log.Debug("running queued command", "command", q.name)
		if err := q.run(q.ctx); err != nil {
			c.reportError(q.name, err)
		}
	}
	return thenErr
}

func (c *Controller) playLocked(ctx context.Context) error {
	switch c.state {
	case StatePlaying:
		return nil
	case StateReady, StatePaused:
	default:
		return fmt.Errorf("%w: play while %s", ErrInvalidState, c.state)
	}

	if c.graph.Ensure(routing.PlatformFrom(ctx, c.platform)) {
		c.connectLocked(c.bg)
	}
	if c.engine.Suspended() {
		if err := c.engine.Resume(ctx); err != nil {
			return err
		}
	}
	if err := c.engine.Start(ctx, c.bg, c.backgroundEnded(c.epoch)); err != nil {
		if errors.Is(err, ErrPlaybackBlocked) {
			c.log.Info("playback blocked until user gesture")
		}
		return err
	}
	if c.narrating {
		if err := c.engine.Start(ctx, c.narr, c.narrationEnded(c.epoch, c.narrGen)); err != nil {
			c.log.Warn("narration resume failed", "error", err)
		}
	}
	c.vis.Start(c.graph, c.target)
	c.setStateLocked(StatePlaying)
	return nil
}

// connectLocked routes ch through the analysis tap when it is available.
func (c *Controller) connectLocked(ch *audio.Channel) {
	if !c.graph.AnalysisTapAvailable() {
		return
	}
	if err := c.graph.Connect(ch); err != nil && !errors.Is(err, routing.ErrAlreadyConnected) {
		c.log.Warn("analysis routing failed", "channel", ch.Name(), "error", err)
	}
}

// discardNarrationLocked stops and releases the narration without
// restoring the background.
func (c *Controller) discardNarrationLocked() {
	c.narrReq++
	c.narrGen++
	c.narrating = false
	c.env.Cancel(c.narr)
	c.engine.Detach(c.narr)
	c.narr.Release()
}

func (c *Controller) backgroundEnded(epoch uint64) audio.EndedFunc {
	return func(*audio.Channel) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != epoch || c.state != StatePlaying || c.narrating {
			return
		}
		c.vis.Stop()
		c.setStateLocked(StateReady)
	}
}

func (c *Controller) narrationEnded(epoch, gen uint64) audio.EndedFunc {
	return func(*audio.Channel) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != epoch || c.narrGen != gen || !c.narrating {
			return
		}
		c.finishNarrationLocked()
	}
}

// finishNarrationLocked discards the narration and restores the background.
func (c *Controller) finishNarrationLocked() {
	c.discardNarrationLocked()
	c.env.Schedule(c.bg, c.restoreLevel, c.restoreTime)
	c.log.Info("narration finished")
	if c.state == StatePlaying && c.bg.State() != audio.StatePlaying {
		c.vis.Stop()
		c.setStateLocked(StateReady)
		return
	}
	c.notifyLocked()
}

// undoImplicitPlayLocked returns a session that a narration started from
// Ready back to Ready.
func (c *Controller) undoImplicitPlayLocked() {
	c.engine.Stop(c.bg)
	c.vis.Stop()
	c.setStateLocked(StateReady)
}

func (c *Controller) queueLocked(ctx context.Context, name string, run func(context.Context) error, discard func()) {
	c.dropQueuedLocked()
	c.queued = &command{name: name, ctx: context.WithoutCancel(ctx), run: run, discard: discard}
	c.log.Debug("command queued while loading", "command", name)
	c.notifyLocked()
}

func (c *Controller) dropQueuedLocked() {
	if c.queued == nil {
		return
	}
	if c.queued.discard != nil {
		c.queued.discard()
	}
	c.queued = nil
}

func (c *Controller) revoke(locator string) {
	if c.revoker != nil {
		c.revoker.Revoke(locator)
	}
}

func (c *Controller) reportError(op string, err error) {
	c.log.Warn("queued command failed", "command", op, "error", err)
	if c.onError != nil {
		c.onError(op, err)
	}
}
