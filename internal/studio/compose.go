package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/card"
)

// Source says where the backing track comes from.
type Source string

const (
	SourceCatalog Source = "catalog"
	SourceLink    Source = "link"
	SourceUpload  Source = "upload"
)

// Mode says how the lyrics are produced.
type Mode string

const (
	// ModeGenerate turns the dictated wishes into lyrics remotely.
	ModeGenerate Mode = "generate"
	// ModeManual uses the dictated text verbatim.
	ModeManual Mode = "manual"
)

const (
	linkMelody   = "Пользовательский трек (Ссылка)"
	neutralStyle = "Нейтральный стиль"
)

var (
	ErrMissingField = errors.New("studio: required field is empty")
	ErrUnknownTrack = errors.New("studio: unknown catalog track")
	ErrBadSource    = errors.New("studio: unknown audio source")
)

// LyricsWriter generates lyrics.
type LyricsWriter interface {
	GenerateLyrics(ctx context.Context, req backend.LyricsRequest) (string, error)
}

// Uploader stores a user audio file and returns its public URL.
type Uploader interface {
	UploadAudio(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Request is everything the user filled in.
type Request struct {
	Name      string `json:"name"`
	Occasion  string `json:"occasion"`
	Dictation string `json:"dictation"`
	Source    Source `json:"source"`
	Mode      Mode   `json:"mode"`
	TrackID   string `json:"trackId,omitempty"`
	Link      string `json:"link,omitempty"`

	UploadName string    `json:"-"`
	Upload     io.Reader `json:"-"`
}

// ComposerOptions configures a Composer.
type ComposerOptions struct {
	Catalog  *Catalog
	Lyrics   LyricsWriter
	Uploader Uploader
	// LyricsTimeout bounds remote generation. Zero means no extra bound.
	LyricsTimeout time.Duration
	// FallbackLyrics, when set, replaces generated lyrics if generation
	// fails instead of failing the card.
	FallbackLyrics string
	Logger         *slog.Logger
}

// Composer builds cards from user requests.
type Composer struct {
	opts ComposerOptions
	log  *slog.Logger
}

// NewComposer creates a Composer. A nil catalog means the built-in one.
func NewComposer(opts ComposerOptions) *Composer {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Composer{opts: opts, log: opts.Logger.With("component", "studio")}
}

// Catalog returns the composer's track catalog.
func (c *Composer) Catalog() *Catalog { return c.opts.Catalog }

// Compose validates req, resolves the backing track (uploading it when
// needed) and produces the lyrics.
func (c *Composer) Compose(ctx context.Context, req Request) (card.Card, error) {
	name := strings.TrimSpace(req.Name)
	occasion := strings.TrimSpace(req.Occasion)
	dictation := strings.TrimSpace(req.Dictation)
	if name == "" || occasion == "" || dictation == "" {
		return card.Card{}, fmt.Errorf("%w: name, occasion and text are required", ErrMissingField)
	}

	cd := card.Card{Name: name, Occasion: occasion}
	var style string
	switch req.Source {
	case SourceCatalog, "":
		t, ok := c.opts.Catalog.Lookup(req.TrackID)
		if !ok {
			return card.Card{}, fmt.Errorf("%w: %q", ErrUnknownTrack, req.TrackID)
		}
		cd.AudioURL, cd.MelodyText, style = t.URL, t.Title, t.Style
	case SourceLink:
		link := strings.TrimSpace(req.Link)
		if link == "" {
			return card.Card{}, fmt.Errorf("%w: audio link", ErrMissingField)
		}
		cd.AudioURL, cd.MelodyText, style = link, linkMelody, neutralStyle
	case SourceUpload:
		if req.Upload == nil || req.UploadName == "" {
			return card.Card{}, fmt.Errorf("%w: audio file", ErrMissingField)
		}
		cd.AudioURL, cd.MelodyText, style = card.PendingUpload, req.UploadName, neutralStyle
	default:
		return card.Card{}, fmt.Errorf("%w: %q", ErrBadSource, req.Source)
	}

	if cd.PendingAudio() {
		if c.opts.Uploader == nil {
			return card.Card{}, fmt.Errorf("upload audio: no uploader configured")
		}
		url, err := c.opts.Uploader.UploadAudio(ctx, req.UploadName, req.Upload)
		if err != nil {
			return card.Card{}, fmt.Errorf("upload audio: %w", err)
		}
		cd = cd.WithAudio(url)
		c.log.Info("audio uploaded", "file", req.UploadName, "url", url)
	}

	switch req.Mode {
	case ModeManual:
		cd.Lyrics = dictation
	case ModeGenerate, "":
		lyrics, err := c.generate(ctx, backend.LyricsRequest{Name: name, Occasion: occasion, Prompt: dictation, Mood: style})
		if err != nil {
			return card.Card{}, err
		}
		cd.Lyrics = lyrics
	default:
		return card.Card{}, fmt.Errorf("studio: unknown mode %q", req.Mode)
	}
	return cd, nil
}

func (c *Composer) generate(ctx context.Context, req backend.LyricsRequest) (string, error) {
	if c.opts.Lyrics == nil {
		return "", fmt.Errorf("generate lyrics: %w", backend.ErrLyricsService)
	}
	if c.opts.LyricsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.LyricsTimeout)
		defer cancel()
	}
	lyrics, err := c.opts.Lyrics.GenerateLyrics(ctx, req)
	if err == nil {
		return lyrics, nil
	}
	if c.opts.FallbackLyrics == "" {
		return "", fmt.Errorf("generate lyrics: %w", err)
	}
	c.log.Warn("lyrics generation failed, using fallback", "error", err)
	return c.opts.FallbackLyrics, nil
}
