package testsupport

import (
	"sort"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/clock"
)

// ManualClock is a clock.Clock whose time only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance, in due-time
// order, so tests observe every tick deterministically.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	seq      int
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

// NewManualClock returns a clock starting at a fixed instant.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Every registers a repeating callback.
func (c *ManualClock) Every(interval time.Duration, fn func()) clock.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{
		clock:    c,
		seq:      c.seq,
		interval: interval,
		next:     c.now.Add(interval),
		fn:       fn,
	}
	c.timers = append(c.timers, t)
	return t
}

// Active returns the number of callbacks that have not been stopped.
func (c *ManualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing every callback that becomes due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := c.nextDueLocked(end)
		if due == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		c.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		c.mu.Unlock()

		fn()
	}
}

// Tick advances by exactly one interval of the given length.
func (c *ManualClock) Tick(interval time.Duration, n int) {
	for range n {
		c.Advance(interval)
	}
}

func (c *ManualClock) nextDueLocked(end time.Time) *manualTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	candidates := make([]*manualTimer, 0, len(live))
	for _, t := range live {
		if !t.next.After(end) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].next.Equal(candidates[j].next) {
			return candidates[i].seq < candidates[j].seq
		}
		return candidates[i].next.Before(candidates[j].next)
	})
	return candidates[0]
}

func (t *manualTimer) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}
