package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iskarmel/musiccard/internal/routing"
	"github.com/iskarmel/musiccard/internal/server"
	"github.com/iskarmel/musiccard/internal/stream"
)

// Spectrum frames are laid out on a fixed virtual canvas; clients scale.
const (
	spectrumWidth  = 320
	spectrumHeight = 100
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server with live audio and spectrum streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			hub := stream.NewSpectrumHub(spectrumWidth, spectrumHeight, log)
			// Clients are browsers; the first play request supplies the real platform.
			a, err := newApp(cfg, log, hub, routing.Platform{UserAgent: "Mozilla/5.0"})
			if err != nil {
				return err
			}
			defer a.Close()

			pcm := stream.NewBroadcaster[[]int16](0)
			go pcm.Run(runCtx, a.engine.Frames())

			webrtcHandler := stream.NewWebRTCHandler(pcm, log)
			defer webrtcHandler.Close()

			srv := server.New(server.Options{
				Controller: a.ctrl,
				Narrator:   a.narrator,
				Store:      a.store,
				Composer:   a.composer,
				ShareBase:  cfg.ShareBaseURL,
				Stream:     stream.NewHTTPHandler(pcm, cfg.FFmpegPath, log),
				WebRTC:     webrtcHandler,
				Spectrum:   hub,
				Listeners: func() int {
					return pcm.ListenerCount() + webrtcHandler.PeerCount()
				},
				Logger: log,
			})

			log.Info("musiccard starting",
				"backend", a.backend.BaseURL(),
				"store", cfg.StoreKind,
				"narration", a.narrator.Mode(),
				"audio_proxy", cfg.AudioProxy,
			)
			return srv.Run(runCtx, fmt.Sprintf(":%d", cfg.Port))
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")
	return cmd
}
