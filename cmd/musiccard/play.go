package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/iskarmel/musiccard/internal/audio"
	"github.com/iskarmel/musiccard/internal/card"
	"github.com/iskarmel/musiccard/internal/routing"
	"github.com/iskarmel/musiccard/internal/session"
	"github.com/iskarmel/musiccard/internal/speaker"
	"github.com/iskarmel/musiccard/internal/studio"
	"github.com/iskarmel/musiccard/internal/visualizer"
)

const (
	spectrumCols = 48
	spectrumRows = 12
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5fd7"))
	melodyStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
)

type cardRef struct {
	link, token, id, track string
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var ref cardRef
	var narrate string
	var noSpectrum bool

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a card on the local audio device",
		Long: "Play a card referenced by a share link, an inline token, a stored id or a catalog track.\n" +
			"With --narrate the text is spoken over the track, ducking it meanwhile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			var target visualizer.RenderTarget = visualizer.NewCanvas(spectrumCols, spectrumRows)
			if f, ok := out.(*os.File); ok && !noSpectrum && isatty.IsTerminal(f.Fd()) {
				target = visualizer.NewTerminal(out, spectrumCols, spectrumRows)
			}

			a, err := newApp(cfg, log, target, routing.Headless)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := resolveRef(runCtx, card.NewResolver(a.store), a.composer.Catalog(), ref)
			if err != nil {
				return err
			}
			if c.PendingAudio() || c.AudioURL == "" {
				return errors.New("card has no playable audio")
			}
			if _, ok := target.(*visualizer.Terminal); ok {
				fmt.Fprint(out, "\x1b[2J")
			}

			spk, err := speaker.Open(runCtx, a.engine.Frames(), log)
			if err != nil {
				return err
			}
			defer spk.Close()

			// A command line invocation is the user's gesture.
			gctx := audio.WithUserGesture(runCtx)
			if err := a.ctrl.LoadCard(gctx, c.AudioURL, c.MelodyText); err != nil {
				return err
			}
			if err := a.ctrl.Play(gctx); err != nil {
				return err
			}
			if _, ok := target.(*visualizer.Terminal); !ok {
				printCard(out, c)
			}
			if narrate != "" {
				if err := a.narrator.Speak(gctx, narrate, ""); err != nil {
					log.Warn("narration failed, playing on", "error", err)
				}
			}

			waitFinished(runCtx, a.ctrl)
			log.Info("playback finished", "underruns", spk.Underruns())
			return nil
		},
	}

	cmd.Flags().StringVar(&ref.link, "link", "", "Share link to play")
	cmd.Flags().StringVar(&ref.token, "token", "", "Inline card token")
	cmd.Flags().StringVar(&ref.id, "id", "", "Stored card id")
	cmd.Flags().StringVar(&ref.track, "track", "", "Catalog track id to play without a card")
	cmd.Flags().StringVar(&narrate, "narrate", "", "Text to speak over the track")
	cmd.Flags().BoolVar(&noSpectrum, "no-spectrum", false, "Do not draw the spectrum")
	cmd.MarkFlagsMutuallyExclusive("link", "token", "id", "track")
	cmd.MarkFlagsOneRequired("link", "token", "id", "track")
	return cmd
}

func resolveRef(ctx context.Context, r *card.Resolver, cat *studio.Catalog, ref cardRef) (card.Card, error) {
	switch {
	case ref.link != "":
		res, err := r.ResolveLink(ctx, ref.link)
		return res.Card, err
	case ref.track != "":
		t, ok := cat.Lookup(ref.track)
		if !ok {
			return card.Card{}, fmt.Errorf("%w: %q", studio.ErrUnknownTrack, ref.track)
		}
		return card.Card{AudioURL: t.URL, MelodyText: t.Title}, nil
	default:
		q := url.Values{}
		if ref.token != "" {
			q.Set(card.ParamData, ref.token)
		}
		if ref.id != "" {
			q.Set(card.ParamID, ref.id)
		}
		res, err := r.Resolve(ctx, q)
		return res.Card, err
	}
}

func printCard(w io.Writer, c card.Card) {
	if c.Name != "" {
		fmt.Fprintln(w, titleStyle.Render(c.Name+" · "+c.Occasion))
	}
	if c.MelodyText != "" {
		fmt.Fprintln(w, melodyStyle.Render(c.MelodyText))
	}
	if c.Lyrics != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, c.Lyrics)
	}
}

// waitFinished blocks until nothing plays any more or ctx ends.
func waitFinished(ctx context.Context, ctrl *session.Controller) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !ctrl.IsPlaying() && !ctrl.Narrating() {
				return
			}
		}
	}
}
