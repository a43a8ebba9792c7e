package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ChannelState is the playback state of a Channel.
type ChannelState int

const (
	StateUnloaded ChannelState = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// Revoker releases locally-created locators. Implementations ignore
// locators they do not own.
type Revoker interface {
	Revoke(locator string)
}

// Channel is one playable audio source: a locator, its decoded PCM, a play
// cursor and a linear volume in [0, 1].
//
// Volume is changed only through SetVolume; transport state is changed only
// by the Engine.
type Channel struct {
	name    string
	revoker Revoker

	mu      sync.Mutex
	locator string
	samples []int16
	pos     int
	volume  float64
	state   ChannelState
	loadSeq uint64
}

// NewChannel creates an unloaded channel at full volume.
func NewChannel(name string, revoker Revoker) *Channel {
	return &Channel{name: name, revoker: revoker, volume: 1}
}

// Name returns the channel's role label ("background", "narration").
func (c *Channel) Name() string {
	return c.name
}

// Locator returns the current source locator.
func (c *Channel) Locator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locator
}

// State returns the current playback state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Volume returns the current linear volume.
func (c *Channel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetVolume sets the linear volume, clamped to [0, 1].
func (c *Channel) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

// Position returns the play cursor as a duration.
func (c *Channel) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return samplesToDuration(c.pos)
}

// Duration returns the length of the decoded source.
func (c *Channel) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return samplesToDuration(len(c.samples))
}

// Load assigns locator, moves to Loading and decodes it. The channel ends in
// Ready on success or Failed on error. A Load superseded by a later Load or
// Release discards its result.
func (c *Channel) Load(ctx context.Context, dec Decoder, locator string) error {
	c.mu.Lock()
	old := c.locator
	c.locator = locator
	c.samples = nil
	c.pos = 0
	c.state = StateLoading
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	if old != "" && old != locator {
		c.revoke(old)
	}

	samples, err := dec.Decode(ctx, locator)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadSeq != seq {
		return fmt.Errorf("load %s: superseded", locator)
	}
	if err != nil {
		c.state = StateFailed
		return err
	}
	c.samples = samples
	c.state = StateReady
	return nil
}

// Replace decodes locator and swaps it in as the channel's source without
// disturbing the channel if decoding fails. On success the cursor is rewound
// and the channel is Ready; the caller restarts playback.
func (c *Channel) Replace(ctx context.Context, dec Decoder, locator string) error {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	samples, err := dec.Decode(ctx, locator)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.loadSeq != seq {
		c.mu.Unlock()
		return fmt.Errorf("replace %s: superseded", locator)
	}
	old := c.locator
	c.locator = locator
	c.samples = samples
	c.pos = 0
	c.state = StateReady
	c.mu.Unlock()

	if old != "" && old != locator {
		c.revoke(old)
	}
	return nil
}

// Release drops decoded audio, revokes an owned locator and returns the
// channel to Unloaded. Pending loads are discarded.
func (c *Channel) Release() {
	c.mu.Lock()
	loc := c.locator
	c.locator = ""
	c.samples = nil
	c.pos = 0
	c.state = StateUnloaded
	c.loadSeq++
	c.mu.Unlock()

	if loc != "" {
		c.revoke(loc)
	}
}

// Unload drops decoded audio but keeps the locator so the source can be
// loaded again.
func (c *Channel) Unload() {
	c.mu.Lock()
	c.samples = nil
	c.pos = 0
	c.state = StateUnloaded
	c.loadSeq++
	c.mu.Unlock()
}

func (c *Channel) revoke(locator string) {
	if c.revoker != nil {
		c.revoker.Revoke(locator)
	}
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// startPlaying moves a Ready or Paused channel to Playing.
func (c *Channel) startPlaying() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePlaying:
		return nil
	case StateReady, StatePaused:
		c.state = StatePlaying
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotLoaded, c.name, c.state)
	}
}

func (c *Channel) pause() {
	c.mu.Lock()
	if c.state == StatePlaying {
		c.state = StatePaused
	}
	c.mu.Unlock()
}

func (c *Channel) rewind() {
	c.mu.Lock()
	c.pos = 0
	if c.state == StatePlaying || c.state == StatePaused {
		c.state = StateReady
	}
	c.mu.Unlock()
}

// readFrame copies the next frame into dst if the channel is playing. It
// returns the number of samples copied, the volume to mix them at, and
// whether the source reached its end (the channel is then rewound to Ready).
func (c *Channel) readFrame(dst []int16) (n int, gain float64, ended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return 0, 0, false
	}
	n = copy(dst, c.samples[c.pos:])
	c.pos += n
	if c.pos >= len(c.samples) {
		c.pos = 0
		c.state = StateReady
		ended = true
	}
	return n, c.volume, ended
}

func samplesToDuration(n int) time.Duration {
	frames := n / Channels
	return time.Duration(frames) * time.Second / SampleRate
}
