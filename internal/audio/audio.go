package audio

import (
	"context"
	"errors"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// ErrPlaybackBlocked is returned when the engine refuses to start a channel
// because playback was not initiated by a user gesture.
var ErrPlaybackBlocked = errors.New("audio: playback blocked by autoplay policy")

// ErrNotLoaded is returned when starting a channel that has no decoded source.
var ErrNotLoaded = errors.New("audio: channel not loaded")

type gestureKey struct{}

// WithUserGesture marks ctx as originating from an explicit user action.
func WithUserGesture(ctx context.Context) context.Context {
	return context.WithValue(ctx, gestureKey{}, true)
}

// IsUserGesture reports whether ctx was marked by WithUserGesture.
func IsUserGesture(ctx context.Context) bool {
	v, _ := ctx.Value(gestureKey{}).(bool)
	return v
}
