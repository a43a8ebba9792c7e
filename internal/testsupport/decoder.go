package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/audio"
)

// Decoder is an in-memory audio.Decoder. Sources are registered by locator
// with a duration; decoding yields a constant non-silent signal.
type Decoder struct {
	mu      sync.Mutex
	sources map[string][]int16
	fail    map[string]error
	gates   map[string]chan struct{}
	calls   map[string]int
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		sources: make(map[string][]int16),
		fail:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
	}
}

// Add registers locator as d of audio.
func (d *Decoder) Add(locator string, dur time.Duration) {
	n := int(dur*audio.SampleRate/time.Second) * audio.Channels
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 4000
	}
	d.mu.Lock()
	d.sources[locator] = samples
	d.mu.Unlock()
}

// Fail makes decoding locator return err.
func (d *Decoder) Fail(locator string, err error) {
	d.mu.Lock()
	d.fail[locator] = err
	d.mu.Unlock()
}

// Gate makes decoding locator block until the returned release func is
// called (or the decode context ends).
func (d *Decoder) Gate(locator string) (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.gates[locator] = ch
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many times locator was decoded.
func (d *Decoder) Calls(locator string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[locator]
}

// Decode implements audio.Decoder.
func (d *Decoder) Decode(ctx context.Context, locator string) ([]int16, error) {
	d.mu.Lock()
	d.calls[locator]++
	gate := d.gates[locator]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[locator]; err != nil {
		return nil, err
	}
	samples, ok := d.sources[locator]
	if !ok {
		return nil, fmt.Errorf("decode %s: no such source", locator)
	}
	out := make([]int16, len(samples))
	copy(out, samples)
	return out, nil
}
