package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/card"
	"github.com/iskarmel/musiccard/internal/cardstore"
	"github.com/iskarmel/musiccard/internal/studio"
)

func newCardCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newEncodeCommand(),
		newDecodeCommand(),
		newResolveCommand(ctx),
		newLinkCommand(ctx),
		newComposeCommand(ctx),
		newCatalogCommand(),
	}
}

// cardFlags binds the card fields to flags. A --file (YAML or JSON) is read
// first and flags override it.
type cardFlags struct {
	file string
	c    card.Card
}

func (f *cardFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Card file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&f.c.Name, "name", "", "Recipient name")
	cmd.Flags().StringVar(&f.c.Occasion, "occasion", "", "Occasion")
	cmd.Flags().StringVar(&f.c.Lyrics, "lyrics", "", "Lyrics")
	cmd.Flags().StringVar(&f.c.AudioURL, "audio", "", "Audio URL")
	cmd.Flags().StringVar(&f.c.MelodyText, "melody", "", "Melody label")
}

func (f *cardFlags) card(cmd *cobra.Command) (card.Card, error) {
	var c card.Card
	if f.file != "" {
		var data []byte
		var err error
		if f.file == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return card.Card{}, fmt.Errorf("read card: %w", err)
		}
		// YAML is a superset of JSON.
		if err := yaml.Unmarshal(data, &c); err != nil {
			return card.Card{}, fmt.Errorf("parse card: %w", err)
		}
	}
	for name, dst := range map[string]*string{
		"name": &c.Name, "occasion": &c.Occasion, "lyrics": &c.Lyrics, "audio": &c.AudioURL, "melody": &c.MelodyText,
	} {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = v
		}
	}
	return c, nil
}

func newEncodeCommand() *cobra.Command {
	var flags cardFlags
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a card as an inline token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.card(cmd)
			if err != nil {
				return err
			}
			token, err := card.Encode(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDecodeCommand() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Decode an inline card token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := card.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), c, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print YAML instead of JSON")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "resolve LINK",
		Short: "Reconstruct the card a share link points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := card.NewResolver(store).ResolveLink(cmd.Context(), args[0])
			if err != nil {
				if card.Unavailable(err) {
					return fmt.Errorf("%w; create a new card instead", err)
				}
				return err
			}
			return printValue(cmd.OutOrStdout(), res, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print YAML instead of JSON")
	return cmd
}

func newLinkCommand(ctx *commandContext) *cobra.Command {
	var flags cardFlags
	var id, base string
	var store bool
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Build a share link for a card",
		Long: "Build a share link. With --id the link references a stored card; with --store the card\n" +
			"is stored first; otherwise the card travels inline as a token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if base == "" {
				base = cfg.ShareBaseURL
			}
			if id != "" {
				fmt.Fprintln(cmd.OutOrStdout(), card.ShareLinkByID(base, id))
				return nil
			}
			c, err := flags.card(cmd)
			if err != nil {
				return err
			}
			link, err := shareCard(cmd.Context(), ctx, base, c, store)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Stored card id")
	cmd.Flags().StringVar(&base, "base", "", "Link base URL (default from config)")
	cmd.Flags().BoolVar(&store, "store", false, "Store the card and link by id")
	cmd.MarkFlagsMutuallyExclusive("id", "store")
	return cmd
}

func shareCard(ctx context.Context, cc *commandContext, base string, c card.Card, store bool) (string, error) {
	if !store {
		return card.ShareLink(base, c)
	}
	s, err := openStore(cc)
	if err != nil {
		return "", err
	}
	defer s.Close()
	newID, err := s.CreateCard(ctx, c)
	if err != nil {
		return "", err
	}
	return card.ShareLinkByID(base, newID), nil
}

func newComposeCommand(ctx *commandContext) *cobra.Command {
	var req studio.Request
	var upload string
	var manual, dictate, share bool
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Create a card from a name, an occasion and wishes",
		Long: "Create a card. The backing track comes from the catalog (--track), a link (--link) or\n" +
			"an uploaded file (--upload). With --dictate, wishes are read line by line from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client := backend.NewClient(backend.Options{
				BaseURL: cfg.BackendURL,
				APIKey:  cfg.BackendAPIKey,
				RPS:     cfg.BackendRPS,
				Logger:  log,
			})
			composer := studio.NewComposer(studio.ComposerOptions{
				Lyrics:         client,
				Uploader:       client,
				LyricsTimeout:  time.Duration(cfg.LyricsTimeout),
				FallbackLyrics: cfg.FallbackLyrics,
				Logger:         log,
			})

			if dictate {
				req.Dictation = readDictation(cmd.Context(), req.Dictation, cmd.InOrStdin())
			}
			if manual {
				req.Mode = studio.ModeManual
			}
			switch {
			case upload != "":
				f, err := os.Open(upload)
				if err != nil {
					return fmt.Errorf("open audio: %w", err)
				}
				defer f.Close()
				req.Source, req.Upload, req.UploadName = studio.SourceUpload, f, filepath.Base(upload)
			case req.Link != "":
				req.Source = studio.SourceLink
			default:
				req.Source = studio.SourceCatalog
			}

			c, err := composer.Compose(cmd.Context(), req)
			if err != nil {
				return err
			}
			if share {
				link, err := shareCard(cmd.Context(), ctx, cfg.ShareBaseURL, c, true)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			}
			return printValue(cmd.OutOrStdout(), c, false)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Recipient name")
	cmd.Flags().StringVar(&req.Occasion, "occasion", "", "Occasion")
	cmd.Flags().StringVar(&req.Dictation, "text", "", "Wishes, or the lyrics with --manual")
	cmd.Flags().StringVar(&req.TrackID, "track", "basta", "Catalog track id")
	cmd.Flags().StringVar(&req.Link, "link", "", "Backing track URL")
	cmd.Flags().StringVar(&upload, "upload", "", "Backing track file to upload")
	cmd.Flags().BoolVar(&manual, "manual", false, "Use --text as the lyrics verbatim")
	cmd.Flags().BoolVar(&dictate, "dictate", false, "Append wishes read line by line from stdin")
	cmd.Flags().BoolVar(&share, "share", false, "Store the card and print its share link")
	cmd.MarkFlagsMutuallyExclusive("link", "upload")
	return cmd
}

// readDictation treats each non-empty stdin line as a final transcript.
func readDictation(ctx context.Context, initial string, r io.Reader) string {
	ch := make(chan studio.Transcript)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case ch <- studio.Transcript{Text: line, Final: true}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return studio.NewDictation(initial).Consume(ctx, ch)
}

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the backing track catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, t := range studio.DefaultCatalog().Tracks() {
				fmt.Fprintf(out, "%s %-8s %s (%s)\n", t.Icon, t.ID, t.Title, t.Genre)
			}
			return nil
		},
	}
}

func openStore(ctx *commandContext) (cardstore.Store, error) {
	cfg, log, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	var client *backend.Client
	if cfg.StoreKind == "" || cfg.StoreKind == cardstore.KindRemote {
		client = backend.NewClient(backend.Options{BaseURL: cfg.BackendURL, APIKey: cfg.BackendAPIKey, Logger: log})
	}
	return cardstore.Open(cardstore.Options{Kind: cfg.StoreKind, Path: cfg.StorePath, Backend: client, Logger: log})
}

func printValue(w io.Writer, v any, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return enc.Encode(v)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
