// Package envelope ramps a channel's volume linearly toward a target on a
// fixed tick, independently of playback transport.
package envelope

import (
	"math"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/clock"
)

// DefaultTick is the ramp step interval.
const DefaultTick = 50 * time.Millisecond

// Target is a channel whose volume can be ramped.
type Target interface {
	Volume() float64
	SetVolume(v float64)
}

// Task is one in-flight ramp. At most one Task per Target is active.
type Task struct {
	target Target
	start  float64
	goal   float64
	delta  float64
	ticks  int // ticks left before the goal is forced
	handle clock.Handle
	done   chan struct{}
}

// Start returns the volume the ramp began from.
func (t *Task) Start() float64 { return t.start }

// Goal returns the volume the ramp ends at.
func (t *Task) Goal() float64 { return t.goal }

// Delta returns the per-tick volume change.
func (t *Task) Delta() float64 { return t.delta }

// Done is closed when the task reaches its goal or is superseded.
func (t *Task) Done() <-chan struct{} { return t.done }

// Scheduler owns the active ramp of every channel.
type Scheduler struct {
	clock clock.Clock
	tick  time.Duration

	mu    sync.Mutex
	tasks map[Target]*Task
}

// NewScheduler creates a scheduler ticking every tick on c. Zero values
// select clock.System and DefaultTick.
func NewScheduler(c clock.Clock, tick time.Duration) *Scheduler {
	if c == nil {
		c = clock.System
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{clock: c, tick: tick, tasks: make(map[Target]*Task)}
}

// Tick returns the step interval.
func (s *Scheduler) Tick() time.Duration { return s.tick }

// Schedule ramps ch from its current volume to goal over d, replacing any
// ramp already running for ch. The replaced ramp never ticks again.
func (s *Scheduler) Schedule(ch Target, goal float64, d time.Duration) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(ch)

	start := ch.Volume()
	t := &Task{target: ch, start: start, goal: goal, done: make(chan struct{})}

	steps := float64(d) / float64(s.tick)
	if d <= 0 || start == goal {
		ch.SetVolume(goal)
		close(t.done)
		return t
	}
	t.delta = (goal - start) / steps
	t.ticks = int(math.Ceil(steps))

	s.tasks[ch] = t
	t.handle = s.clock.Every(s.tick, func() { s.step(t) })
	return t
}

// Cancel stops the ramp for ch, leaving its volume where it is.
func (s *Scheduler) Cancel(ch Target) {
	s.mu.Lock()
	s.cancelLocked(ch)
	s.mu.Unlock()
}

// Active reports whether ch has a running ramp.
func (s *Scheduler) Active(ch Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[ch]
	return ok
}

// Len returns the number of running ramps.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels every running ramp.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.tasks {
		s.cancelLocked(ch)
	}
}

func (s *Scheduler) cancelLocked(ch Target) {
	t, ok := s.tasks[ch]
	if !ok {
		return
	}
	delete(s.tasks, ch)
	t.handle.Stop()
	close(t.done)
}

func (s *Scheduler) step(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[t.target] != t {
		return
	}

	next := t.target.Volume() + t.delta
	t.ticks--
	reached := (t.delta > 0 && next >= t.goal) || (t.delta < 0 && next <= t.goal)
	if reached || t.ticks <= 0 {
		t.target.SetVolume(t.goal)
		delete(s.tasks, t.target)
		t.handle.Stop()
		close(t.done)
		return
	}
	t.target.SetVolume(next)
}
