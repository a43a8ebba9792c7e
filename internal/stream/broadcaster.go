// Package stream carries the session output to remote listeners: the PCM
// mix as MP3 over HTTP or Opus over WebRTC, and the spectrum over websocket.
package stream

import (
	"context"
	"sync"
)

// DefaultBuffer holds about three seconds of 20ms PCM frames.
const DefaultBuffer = 150

// Broadcaster fans out values from one source to N listeners.
type Broadcaster[T any] struct {
	buffer    int
	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
}

// Listener receives values from the broadcaster.
type Listener[T any] struct {
	C    chan T
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener[T]) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// values. Zero means DefaultBuffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		buffer:    buffer,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster[T]) Subscribe() *Listener[T] {
	l := &Listener[T]{
		C:    make(chan T, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers v to every listener with room in its buffer.
// Slow listeners get values dropped rather than blocking the broadcast.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- v:
		default:
		}
	}
	b.mu.RUnlock()
}

// Run reads values from source and publishes them until ctx ends or source
// is closed.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-source:
			if !ok {
				return
			}
			b.Publish(v)
		}
	}
}
