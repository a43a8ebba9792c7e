package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iskarmel/musiccard/internal/blob"
)

// Mode chooses how synthesized speech meets the background track.
type Mode string

const (
	// ModeClient synthesizes speech alone and ducks the background locally.
	ModeClient Mode = "client"
	// ModeServer asks the service for a premixed track and replaces the
	// background with it, without envelopes.
	ModeServer Mode = "server"
	// ModeAuto uses ModeServer for remote backgrounds the service can fetch
	// and ModeClient for local ones.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeClient, ModeServer, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown narration mode %q", s)
	}
}

// Speech is the remote speech service.
type Speech interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	Mix(ctx context.Context, text, voice, backgroundURL string) ([]byte, error)
}

// BlobStore holds synthesized audio for playback.
type BlobStore interface {
	Put(data []byte) string
	Revoke(locator string)
}

// Narrator turns text into narration of the controller's current card.
type Narrator struct {
	ctrl   *Controller
	speech Speech
	blobs  BlobStore
	mode   Mode
	voice  string
	log    *slog.Logger
}

// NewNarrator creates a narrator. An empty voice lets the service choose.
func NewNarrator(ctrl *Controller, speech Speech, blobs BlobStore, mode Mode, voice string, log *slog.Logger) *Narrator {
	if mode == "" {
		mode = ModeAuto
	}
	if log == nil {
		log = slog.Default()
	}
	return &Narrator{ctrl: ctrl, speech: speech, blobs: blobs, mode: mode, voice: voice, log: log}
}

// Mode returns the configured strategy.
func (n *Narrator) Mode() Mode { return n.mode }

// ModeFor resolves ModeAuto against a background locator.
func (n *Narrator) ModeFor(background string) Mode {
	if n.mode != ModeAuto {
		return n.mode
	}
	if background == "" || blob.IsBlob(background) || !isRemote(background) {
		return ModeClient
	}
	return ModeServer
}

// Speak synthesizes text and plays it over the current card. Service errors
// abort before the session is touched.
func (n *Narrator) Speak(ctx context.Context, text, voice string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if voice == "" {
		voice = n.voice
	}

	// A previous mix replaced the playing locator; the service mixes over the
	// card's own track.
	bg := n.ctrl.Source()
	mode := n.ModeFor(bg)
	n.log.Info("narrating", "mode", mode, "voice", voice, "chars", len([]rune(text)))

	switch mode {
	case ModeServer:
		data, err := n.speech.Mix(ctx, text, voice, bg)
		if err != nil {
			return err
		}
		return n.ctrl.ReplaceWithMix(ctx, n.blobs.Put(data))
	default:
		data, err := n.speech.Synthesize(ctx, text, voice)
		if err != nil {
			return err
		}
		return n.ctrl.Narrate(ctx, n.blobs.Put(data))
	}
}

func isRemote(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}
