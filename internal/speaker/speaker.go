// Package speaker plays the session mix on the local audio device.
package speaker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/iskarmel/musiccard/internal/audio"
)

// bytesPerSample is signed 16-bit little endian.
const bytesPerSample = 2

// Speaker feeds engine frames to an oto player.
type Speaker struct {
	ctx    *oto.Context
	player oto.Player
	reader *frameReader
	log    *slog.Logger
	once   sync.Once
}

// Open starts playing frames on the default output device. It blocks until
// the device is ready or ctx ends.
func Open(ctx context.Context, frames <-chan []int16, log *slog.Logger) (*Speaker, error) {
	if log == nil {
		log = slog.Default()
	}
	octx, ready, err := oto.NewContext(audio.SampleRate, audio.Channels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r := newFrameReader(frames, audio.FrameDuration)
	p := octx.NewPlayer(r)
	p.Play()
	log.Info("speaker open", "sample_rate", audio.SampleRate, "channels", audio.Channels)
	return &Speaker{ctx: octx, player: p, reader: r, log: log}, nil
}

// Underruns returns how many silent frames were inserted because the engine
// produced nothing in time.
func (s *Speaker) Underruns() uint64 { return s.reader.Underruns() }

// Close stops playback.
func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		s.reader.Close()
		err = s.player.Close()
	})
	return err
}

// frameReader adapts a frame channel to io.Reader. When no frame arrives
// within wait it yields a silent frame so the device never starves.
type frameReader struct {
	frames <-chan []int16
	wait   time.Duration
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	rest      []byte
	underruns uint64
}

func newFrameReader(frames <-chan []int16, wait time.Duration) *frameReader {
	return &frameReader{frames: frames, wait: wait, done: make(chan struct{})}
}

func (r *frameReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rest) == 0 {
		select {
		case <-r.done:
			return 0, io.EOF
		default:
		}
		timer := time.NewTimer(r.wait)
		select {
		case <-r.done:
			timer.Stop()
			return 0, io.EOF
		case f, ok := <-r.frames:
			timer.Stop()
			if !ok {
				return 0, io.EOF
			}
			r.rest = audio.SamplesToBytes(f)
		case <-timer.C:
			r.underruns++
			r.rest = make([]byte, audio.FrameBytes)
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func (r *frameReader) Underruns() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.underruns
}

func (r *frameReader) Close() {
	r.once.Do(func() { close(r.done) })
}
