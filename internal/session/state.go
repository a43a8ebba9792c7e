package session

import (
	"errors"
	"fmt"

	"github.com/iskarmel/musiccard/internal/audio"
)

// State is the transport state of a session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrLoad wraps failures to load a background, narration or mix source.
	ErrLoad = errors.New("session: load failed")
	// ErrInvalidState is returned for a command the current state forbids.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrSuperseded is returned by an operation whose result was discarded
	// because a later load or reset replaced the session.
	ErrSuperseded = errors.New("session: superseded")
	// ErrPlaybackBlocked is returned when the platform refuses to start
	// playback without a user gesture. It is recoverable.
	ErrPlaybackBlocked = audio.ErrPlaybackBlocked
	// ErrEmptyText is returned when narrating nothing.
	ErrEmptyText = errors.New("session: nothing to narrate")
)

// Snapshot is the observable state of a session.
type Snapshot struct {
	State            State   `json:"-"`
	StateName        string  `json:"state"`
	Playing          bool    `json:"playing"`
	Narrating        bool    `json:"narrating"`
	MelodyLabel      string  `json:"melody"`
	Source           string  `json:"source,omitempty"`
	Locator          string  `json:"locator,omitempty"`
	BackgroundVolume float64 `json:"backgroundVolume"`
	NarrationVolume  float64 `json:"narrationVolume"`
	Queued           string  `json:"queued,omitempty"`
	Visualizing      bool    `json:"visualizing"`
}
