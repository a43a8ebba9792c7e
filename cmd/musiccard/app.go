package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/iskarmel/musiccard/internal/audio"
	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/blob"
	"github.com/iskarmel/musiccard/internal/cardstore"
	"github.com/iskarmel/musiccard/internal/config"
	"github.com/iskarmel/musiccard/internal/envelope"
	"github.com/iskarmel/musiccard/internal/routing"
	"github.com/iskarmel/musiccard/internal/session"
	"github.com/iskarmel/musiccard/internal/studio"
	"github.com/iskarmel/musiccard/internal/visualizer"
)

// app is one wired session with its collaborators.
type app struct {
	backend  *backend.Client
	store    cardstore.Store
	blobs    *blob.Registry
	engine   *audio.Engine
	env      *envelope.Scheduler
	ctrl     *session.Controller
	narrator *session.Narrator
	composer *studio.Composer
}

func newApp(cfg *config.Config, log *slog.Logger, target visualizer.RenderTarget, platform routing.Platform) (*app, error) {
	mode, err := session.ParseMode(cfg.NarrationMode)
	if err != nil {
		return nil, err
	}

	client := backend.NewClient(backend.Options{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.BackendAPIKey,
		Timeout: time.Duration(cfg.BackendTimeout),
		RPS:     cfg.BackendRPS,
		Logger:  log,
	})
	store, err := cardstore.Open(cardstore.Options{Kind: cfg.StoreKind, Path: cfg.StorePath, Backend: client, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open card store: %w", err)
	}

	blobs := blob.NewRegistry(log)
	dec := &audio.FFmpegDecoder{Path: cfg.FFmpegPath, Blobs: blobs}
	if cfg.AudioProxy {
		dec.Rewrite = client.ProxyURL
	}

	routing.ConfigureDefault(routing.Options{FFTSize: cfg.FFTSize, Smoothing: cfg.Smoothing, Logger: log})
	engine := audio.NewEngine(audio.EngineOptions{AutoplayAllowed: cfg.AutoplayAllowed, Logger: log})
	env := envelope.NewScheduler(nil, time.Duration(cfg.TickInterval))
	vis := visualizer.New(visualizer.Options{FrameInterval: cfg.FrameInterval(), Logger: log})

	ctrl := session.New(session.Options{
		Engine:       engine,
		Decoder:      dec,
		Revoker:      blobs,
		Envelopes:    env,
		Visualizer:   vis,
		Target:       target,
		Platform:     platform,
		DuckLevel:    cfg.DuckLevel,
		DuckTime:     time.Duration(cfg.DuckTime),
		RestoreLevel: cfg.RestoreLevel,
		RestoreTime:  time.Duration(cfg.RestoreTime),
		Logger:       log.With("component", "session"),
		OnStateChange: func(s session.Snapshot) {
			log.Debug("session state", "state", s.StateName, "narrating", s.Narrating, "bg_volume", s.BackgroundVolume)
		},
		OnError: func(op string, err error) {
			log.Warn("queued command failed", "command", op, "error", err)
		},
	})

	return &app{
		backend:  client,
		store:    store,
		blobs:    blobs,
		engine:   engine,
		env:      env,
		ctrl:     ctrl,
		narrator: session.NewNarrator(ctrl, client, blobs, mode, cfg.Voice, log.With("component", "narrator")),
		composer: studio.NewComposer(studio.ComposerOptions{
			Lyrics:         client,
			Uploader:       client,
			LyricsTimeout:  time.Duration(cfg.LyricsTimeout),
			FallbackLyrics: cfg.FallbackLyrics,
			Logger:         log,
		}),
	}, nil
}

func (a *app) Close() {
	a.ctrl.Close()
	a.env.Close()
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("close card store", "error", err)
	}
}
