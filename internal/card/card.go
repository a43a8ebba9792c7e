// Package card defines the shareable music card and the two ways a shared
// link reconstructs it: an inline token and a server-issued identifier.
package card

import (
	"errors"
)

// PendingUpload is the audio locator of a card whose audio file has not been
// uploaded yet.
const PendingUpload = "pending_upload"

var (
	// ErrDecode is returned for a token that is not a complete card.
	ErrDecode = errors.New("card: invalid token")
	// ErrNotFound is returned when an identifier resolves to no card.
	ErrNotFound = errors.New("card: not found")
	// ErrNoReference is returned for a link carrying neither data nor id.
	ErrNoReference = errors.New("card: link has no card reference")
)

// Unavailable reports whether err means the referenced card cannot be shown
// and the caller should fall back to creating a new one.
func Unavailable(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrNotFound)
}

// Card is the complete content of one greeting. It is a value type; fields
// are never mutated after construction.
type Card struct {
	Name       string `json:"name" yaml:"name"`
	Occasion   string `json:"occasion" yaml:"occasion"`
	Lyrics     string `json:"lyrics" yaml:"lyrics"`
	AudioURL   string `json:"audioUrl" yaml:"audioUrl"`
	MelodyText string `json:"melodyText" yaml:"melodyText"`
}

// PendingAudio reports whether the card still waits for an audio upload.
func (c Card) PendingAudio() bool {
	return c.AudioURL == PendingUpload
}

// WithAudio returns a copy of c pointing at locator.
func (c Card) WithAudio(locator string) Card {
	c.AudioURL = locator
	return c
}
