// Package clock provides cancellable repeating tasks.
//
// Every repeating loop in the player (envelope ticks, visualizer frames, the
// engine's frame pump) is started through a Clock so tests can drive time
// deterministically.
package clock

import (
	"sync"
	"time"
)

// Handle cancels a repeating task started by Clock.Every.
// Stop is idempotent.
type Handle interface {
	Stop()
}

// Clock schedules repeating callbacks.
type Clock interface {
	// Every calls fn once per interval until the returned handle is stopped.
	Every(interval time.Duration, fn func()) Handle
	Now() time.Time
}

// Real is the wall-clock implementation backed by time.Ticker.
type Real struct{}

// System is the shared wall clock.
var System Clock = Real{}

// Now returns the current wall time.
func (Real) Now() time.Time { return time.Now() }

// Every starts a goroutine that calls fn on every tick of a time.Ticker.
func (Real) Every(interval time.Duration, fn func()) Handle {
	h := &tickerHandle{
		ticker: time.NewTicker(interval),
		quit:   make(chan struct{}),
	}
	go h.run(fn)
	return h
}

type tickerHandle struct {
	ticker *time.Ticker
	quit   chan struct{}
	once   sync.Once
}

func (h *tickerHandle) run(fn func()) {
	for {
		select {
		case <-h.quit:
			return
		case <-h.ticker.C:
			// A tick can race with Stop; prefer quit.
			select {
			case <-h.quit:
				return
			default:
			}
			fn()
		}
	}
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.quit)
	})
}
