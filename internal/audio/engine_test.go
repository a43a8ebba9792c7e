package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iskarmel/musiccard/internal/audio"
	"github.com/iskarmel/musiccard/internal/testsupport"
)

type recordingTap struct {
	mu     sync.Mutex
	routed map[*audio.Channel]bool
	fed    int
	last   []float64
}

func (r *recordingTap) Routed(ch *audio.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routed[ch]
}

func (r *recordingTap) Feed(mono []float64) {
	r.mu.Lock()
	r.fed++
	r.last = mono
	r.mu.Unlock()
}

func loaded(t *testing.T, dec *testsupport.Decoder, name, locator string, d time.Duration) *audio.Channel {
	t.Helper()
	dec.Add(locator, d)
	ch := audio.NewChannel(name, nil)
	if err := ch.Load(context.Background(), dec, locator); err != nil {
		t.Fatalf("Load(%s): %v", locator, err)
	}
	return ch
}

func TestEngineStartsSuspended(t *testing.T) {
	clk := testsupport.NewManualClock()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, AutoplayAllowed: true})
	if !e.Suspended() {
		t.Fatal("new engine should be suspended")
	}
	clk.Advance(time.Second)
	if e.FramesMixed() != 0 {
		t.Errorf("suspended engine mixed %d frames", e.FramesMixed())
	}

	if err := e.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	clk.Advance(100 * time.Millisecond)
	if got := e.FramesMixed(); got != 5 {
		t.Errorf("FramesMixed = %d, want 5", got)
	}

	e.Suspend()
	clk.Advance(time.Second)
	if got := e.FramesMixed(); got != 5 {
		t.Errorf("FramesMixed after Suspend = %d, want 5", got)
	}
	if clk.Active() != 0 {
		t.Errorf("pump still registered after Suspend")
	}
}

func TestEngineAutoplayPolicy(t *testing.T) {
	clk := testsupport.NewManualClock()
	dec := testsupport.NewDecoder()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk})
	ch := loaded(t, dec, "background", "https://x/a.mp3", time.Second)

	if err := e.Start(context.Background(), ch, nil); !errors.Is(err, audio.ErrPlaybackBlocked) {
		t.Fatalf("Start without gesture = %v, want ErrPlaybackBlocked", err)
	}
	if ch.State() != audio.StateReady {
		t.Errorf("blocked channel state = %v, want ready", ch.State())
	}
	if e.Attached(ch) {
		t.Error("blocked channel attached")
	}

	if err := e.Start(audio.WithUserGesture(context.Background()), ch, nil); err != nil {
		t.Fatalf("Start with gesture: %v", err)
	}
	e.Pause(ch)

	// The gesture unlocks playback for the rest of the engine's life.
	if err := e.Start(context.Background(), ch, nil); err != nil {
		t.Errorf("Start after unlock: %v", err)
	}
}

func TestEngineMixesAtVolume(t *testing.T) {
	clk := testsupport.NewManualClock()
	dec := testsupport.NewDecoder()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, AutoplayAllowed: true})
	bg := loaded(t, dec, "background", "bg", time.Second)
	narr := loaded(t, dec, "narration", "narr", time.Second)
	bg.SetVolume(0.5)

	ctx := context.Background()
	e.Resume(ctx)
	if err := e.Start(ctx, bg, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx, narr, nil); err != nil {
		t.Fatal(err)
	}

	clk.Advance(audio.FrameDuration)
	frame := <-e.Frames()
	if len(frame) != audio.FrameSamples {
		t.Fatalf("frame len = %d, want %d", len(frame), audio.FrameSamples)
	}
	// The test decoder produces a constant 4000.
	if frame[0] != 6000 {
		t.Errorf("mixed sample = %d, want 6000", frame[0])
	}

	e.Pause(narr)
	clk.Advance(audio.FrameDuration)
	frame = <-e.Frames()
	if frame[0] != 2000 {
		t.Errorf("sample with narration paused = %d, want 2000", frame[0])
	}
}

func TestEngineEndedCallback(t *testing.T) {
	clk := testsupport.NewManualClock()
	dec := testsupport.NewDecoder()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, AutoplayAllowed: true})
	ch := loaded(t, dec, "narration", "narr", 100*time.Millisecond)

	var ended []*audio.Channel
	ctx := context.Background()
	e.Resume(ctx)
	if err := e.Start(ctx, ch, func(c *audio.Channel) {
		// Callbacks run outside the engine lock.
		e.Detach(c)
		ended = append(ended, c)
	}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(80 * time.Millisecond)
	if len(ended) != 0 {
		t.Fatalf("ended early after 80ms")
	}
	clk.Advance(20 * time.Millisecond)
	if len(ended) != 1 || ended[0] != ch {
		t.Fatalf("ended = %v, want one call", ended)
	}
	if e.Attached(ch) {
		t.Error("channel still attached after Detach in callback")
	}
	if ch.State() != audio.StateReady {
		t.Errorf("state after end = %v, want ready", ch.State())
	}
	clk.Advance(time.Second)
	if len(ended) != 1 {
		t.Errorf("ended fired %d times", len(ended))
	}
}

func TestEngineFeedsRoutedChannelsOnly(t *testing.T) {
	clk := testsupport.NewManualClock()
	dec := testsupport.NewDecoder()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, AutoplayAllowed: true})
	bg := loaded(t, dec, "background", "bg", time.Second)
	narr := loaded(t, dec, "narration", "narr", time.Second)
	tap := &recordingTap{routed: map[*audio.Channel]bool{bg: true}}
	e.SetTap(tap)

	ctx := context.Background()
	e.Resume(ctx)
	e.Start(ctx, narr, nil)
	clk.Advance(audio.FrameDuration)
	if tap.fed != 0 {
		t.Errorf("unrouted channel fed the tap")
	}

	e.Start(ctx, bg, nil)
	clk.Advance(audio.FrameDuration)
	if tap.fed != 1 {
		t.Fatalf("fed = %d, want 1", tap.fed)
	}
	if len(tap.last) != audio.FrameSize {
		t.Errorf("mono len = %d, want %d", len(tap.last), audio.FrameSize)
	}
	// Only bg (4000) is in the tap mix, not narr.
	if want := 4000.0 / 32768; tap.last[0] != want {
		t.Errorf("tap sample = %v, want %v", tap.last[0], want)
	}
}

func TestEngineDropsFramesWhenNobodyListens(t *testing.T) {
	clk := testsupport.NewManualClock()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, FrameBuffer: 2})
	e.Resume(context.Background())
	clk.Advance(time.Second)
	if got := e.FramesMixed(); got != 50 {
		t.Errorf("FramesMixed = %d, want 50", got)
	}
	if got := len(e.Frames()); got != 2 {
		t.Errorf("buffered frames = %d, want 2", got)
	}
}

func TestEngineClose(t *testing.T) {
	clk := testsupport.NewManualClock()
	dec := testsupport.NewDecoder()
	e := audio.NewEngine(audio.EngineOptions{Clock: clk, AutoplayAllowed: true})
	ch := loaded(t, dec, "background", "bg", time.Second)
	ctx := context.Background()
	e.Resume(ctx)
	e.Start(ctx, ch, nil)

	e.Close()
	if e.Attached(ch) || !e.Suspended() {
		t.Error("Close left the engine running")
	}
	e.Resume(ctx)
	if !e.Suspended() {
		t.Error("closed engine resumed")
	}
}
