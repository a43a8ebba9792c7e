package envelope

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskarmel/musiccard/internal/testsupport"
)

type fakeChannel struct {
	mu  sync.Mutex
	vol float64
	set int
}

func (f *fakeChannel) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vol
}

func (f *fakeChannel) SetVolume(v float64) {
	f.mu.Lock()
	f.vol = v
	f.set++
	f.mu.Unlock()
}

func TestScheduleReachesTargetExactly(t *testing.T) {
	tick := 50 * time.Millisecond
	cases := []struct {
		start, goal float64
		d           time.Duration
	}{
		{1, 0.15, 500 * time.Millisecond},
		{0.15, 1, 1000 * time.Millisecond},
		{0, 1, 70 * time.Millisecond},
		{1, 0, 30 * time.Millisecond},
		{0.3, 0.7, 333 * time.Millisecond},
		{0.9, 0.1, 2 * time.Second},
		{0.15, 1, 1 * time.Millisecond},
	}
	for _, tc := range cases {
		clk := testsupport.NewManualClock()
		s := NewScheduler(clk, tick)
		ch := &fakeChannel{vol: tc.start}

		task := s.Schedule(ch, tc.goal, tc.d)
		maxTicks := int(math.Ceil(float64(tc.d) / float64(tick)))
		lo, hi := math.Min(tc.start, tc.goal), math.Max(tc.start, tc.goal)

		for i := 0; i < maxTicks; i++ {
			clk.Advance(tick)
			v := ch.Volume()
			assert.GreaterOrEqual(t, v, lo, "%+v tick %d", tc, i)
			assert.LessOrEqual(t, v, hi, "%+v tick %d", tc, i)
		}

		assert.Equal(t, tc.goal, ch.Volume(), "%+v", tc)
		assert.False(t, s.Active(ch))
		assert.Zero(t, clk.Active(), "ticker left running for %+v", tc)
		select {
		case <-task.Done():
		default:
			t.Errorf("task %+v not done", tc)
		}
	}
}

func TestScheduleDelta(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 50*time.Millisecond)
	ch := &fakeChannel{vol: 1}

	task := s.Schedule(ch, 0.15, 500*time.Millisecond)
	assert.InDelta(t, -0.085, task.Delta(), 1e-12)
	assert.Equal(t, 1.0, task.Start())

	clk.Advance(50 * time.Millisecond)
	assert.InDelta(t, 0.915, ch.Volume(), 1e-12)
}

func TestScheduleSupersedesFromCurrentVolume(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 50*time.Millisecond)
	ch := &fakeChannel{vol: 1}

	first := s.Schedule(ch, 0.15, 500*time.Millisecond)
	clk.Tick(50*time.Millisecond, 4)
	mid := ch.Volume()
	require.InDelta(t, 1-4*0.085, mid, 1e-9)

	second := s.Schedule(ch, 1, 1000*time.Millisecond)
	<-first.Done()
	assert.Equal(t, mid, second.Start())
	assert.InDelta(t, (1-mid)/20, second.Delta(), 1e-12)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, clk.Active())

	// The first task's ticker never fires again: only rising steps follow.
	prev := ch.Volume()
	for range 20 {
		clk.Advance(50 * time.Millisecond)
		v := ch.Volume()
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
	assert.Equal(t, 1.0, ch.Volume())
	assert.Zero(t, s.Len())
}

func TestScheduleImmediate(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 0)
	assert.Equal(t, DefaultTick, s.Tick())

	ch := &fakeChannel{vol: 0.4}
	task := s.Schedule(ch, 0.9, 0)
	assert.Equal(t, 0.9, ch.Volume())
	assert.False(t, s.Active(ch))
	<-task.Done()

	task = s.Schedule(ch, 0.9, time.Second)
	assert.False(t, s.Active(ch))
	assert.Zero(t, clk.Active())
	<-task.Done()
}

func TestCancelFreezesVolume(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 50*time.Millisecond)
	ch := &fakeChannel{vol: 1}

	s.Schedule(ch, 0, 1000*time.Millisecond)
	clk.Tick(50*time.Millisecond, 3)
	s.Cancel(ch)
	frozen := ch.Volume()
	writes := ch.set

	clk.Tick(50*time.Millisecond, 10)
	assert.Equal(t, frozen, ch.Volume())
	assert.Equal(t, writes, ch.set)
	assert.False(t, s.Active(ch))

	// Cancelling an idle channel is harmless.
	s.Cancel(ch)
}

func TestCloseCancelsEverything(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 50*time.Millisecond)
	a, b := &fakeChannel{vol: 1}, &fakeChannel{vol: 0}

	s.Schedule(a, 0, time.Second)
	s.Schedule(b, 1, time.Second)
	require.Equal(t, 2, s.Len())

	s.Close()
	assert.Zero(t, s.Len())
	assert.Zero(t, clk.Active())
}

func TestIndependentChannels(t *testing.T) {
	clk := testsupport.NewManualClock()
	s := NewScheduler(clk, 50*time.Millisecond)
	a, b := &fakeChannel{vol: 1}, &fakeChannel{vol: 0}

	s.Schedule(a, 0.15, 500*time.Millisecond)
	s.Schedule(b, 1, 1000*time.Millisecond)
	clk.Tick(50*time.Millisecond, 10)

	assert.Equal(t, 0.15, a.Volume())
	assert.False(t, s.Active(a))
	assert.True(t, s.Active(b))
	assert.InDelta(t, 0.5, b.Volume(), 1e-9)
}
