// Package server exposes one process-wide card session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iskarmel/musiccard/internal/audio"
	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/card"
	"github.com/iskarmel/musiccard/internal/cardstore"
	"github.com/iskarmel/musiccard/internal/routing"
	"github.com/iskarmel/musiccard/internal/session"
	"github.com/iskarmel/musiccard/internal/studio"
)

// maxUpload matches the backend's upload limit with some room for the form.
const maxUpload = 16 << 20

// Options wires the server to the session and its collaborators. Stream
// handlers are optional.
type Options struct {
	Controller *session.Controller
	Narrator   *session.Narrator
	Store      cardstore.Store
	Composer   *studio.Composer
	ShareBase  string

	Stream   http.Handler // GET /stream
	WebRTC   http.Handler // POST /offer
	Spectrum http.Handler // GET /ws/spectrum

	// Listeners reports connected stream clients for /api/session/status.
	Listeners func() int
	Logger    *slog.Logger
}

// Server is the HTTP surface of a session.
type Server struct {
	opts     Options
	resolver *card.Resolver
	log      *slog.Logger

	mu      sync.Mutex
	current *card.Card
	id      string
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var fetcher card.Fetcher
	if opts.Store != nil {
		fetcher = opts.Store
	}
	return &Server{
		opts:     opts,
		resolver: card.NewResolver(fetcher),
		log:      opts.Logger.With("component", "server"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/load", s.handleLoad)
	mux.HandleFunc("POST /api/session/play", s.handlePlay)
	mux.HandleFunc("POST /api/session/pause", s.handlePause)
	mux.HandleFunc("POST /api/session/reset", s.handleReset)
	mux.HandleFunc("POST /api/session/narrate", s.handleNarrate)
	mux.HandleFunc("GET /api/session/status", s.handleStatus)

	mux.HandleFunc("POST /api/cards", s.handleCreateCard)
	mux.HandleFunc("GET /api/cards/{id}", s.handleGetCard)
	mux.HandleFunc("POST /api/share", s.handleShare)
	mux.HandleFunc("POST /api/compose", s.handleCompose)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)

	if s.opts.Stream != nil {
		mux.Handle("/stream", s.opts.Stream)
	}
	if s.opts.WebRTC != nil {
		mux.Handle("/offer", s.opts.WebRTC)
	}
	if s.opts.Spectrum != nil {
		mux.Handle("/ws/spectrum", s.opts.Spectrum)
	}
	return mux
}

// Run serves on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("musiccard live", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// gesture marks a request as a user gesture from the requesting platform.
func gesture(r *http.Request) context.Context {
	ctx := routing.WithPlatform(r.Context(), routing.Platform{UserAgent: r.UserAgent()})
	return audio.WithUserGesture(ctx)
}

type loadRequest struct {
	Data string     `json:"data,omitempty"`
	ID   string     `json:"id,omitempty"`
	Link string     `json:"link,omitempty"`
	Card *card.Card `json:"card,omitempty"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var res card.Resolved
	var err error
	switch {
	case req.Card != nil:
		res = card.Resolved{Card: *req.Card}
	case req.Link != "":
		res, err = s.resolver.ResolveLink(r.Context(), req.Link)
	default:
		q := url.Values{}
		if req.Data != "" {
			q.Set(card.ParamData, req.Data)
		}
		if req.ID != "" {
			q.Set(card.ParamID, req.ID)
		}
		res, err = s.resolver.Resolve(r.Context(), q)
	}
	if err != nil {
		s.fail(w, "resolve card", err)
		return
	}
	if res.Card.PendingAudio() || res.Card.AudioURL == "" {
		writeError(w, http.StatusConflict, "card audio is not uploaded")
		return
	}

	if err := s.opts.Controller.LoadCard(gesture(r), res.Card.AudioURL, res.Card.MelodyText); err != nil {
		s.fail(w, "load card", err)
		return
	}
	s.setCurrent(res.Card, res.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"card":    res.Card,
		"id":      res.ID,
		"origin":  res.Origin,
		"session": s.opts.Controller.Snapshot(),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.command(w, "play", s.opts.Controller.Play(gesture(r)))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, "pause", s.opts.Controller.Pause())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.opts.Controller.Reset()
	s.command(w, "reset", nil)
}

func (s *Server) handleNarrate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Narrator == nil {
		writeError(w, http.StatusNotImplemented, "narration not configured")
		return
	}
	var req struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	err := s.opts.Narrator.Speak(gesture(r), req.Text, req.Voice)
	s.command(w, "narrate", err)
}

func (s *Server) command(w http.ResponseWriter, op string, err error) {
	if err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": s.opts.Controller.Snapshot()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cur, id := s.current, s.id
	s.mu.Unlock()

	out := map[string]any{
		"session": s.opts.Controller.Snapshot(),
		"card":    cur,
		"id":      id,
	}
	if s.opts.Listeners != nil {
		out["listeners"] = s.opts.Listeners()
	}
	if s.opts.Narrator != nil {
		out["narration_mode"] = s.opts.Narrator.Mode()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, "card store not configured")
		return
	}
	var c card.Card
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid card")
		return
	}
	id, err := s.opts.Store.CreateCard(r.Context(), c)
	if err != nil {
		s.fail(w, "create card", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.resolver.ResolveByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "fetch card", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleShare returns a link for the given card, or the loaded one. Cards
// without an id are stored first; when storing fails the link carries the
// card inline.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string     `json:"id,omitempty"`
		Card *card.Card `json:"card,omitempty"`
		Base string     `json:"base,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	base := req.Base
	if base == "" {
		base = s.opts.ShareBase
	}

	id, c := req.ID, req.Card
	if id == "" && c == nil {
		s.mu.Lock()
		c, id = s.current, s.id
		s.mu.Unlock()
	}
	if id != "" {
		writeJSON(w, http.StatusOK, map[string]string{"url": card.ShareLinkByID(base, id), "id": id})
		return
	}
	if c == nil {
		writeError(w, http.StatusBadRequest, "no card to share")
		return
	}

	if s.opts.Store != nil {
		newID, err := s.opts.Store.CreateCard(r.Context(), *c)
		if err == nil {
			s.adoptID(*c, newID)
			writeJSON(w, http.StatusOK, map[string]string{"url": card.ShareLinkByID(base, newID), "id": newID})
			return
		}
		s.log.Warn("store card for sharing failed, sharing inline", "error", err)
	}
	link, err := card.ShareLink(base, *c)
	if err != nil {
		s.fail(w, "share card", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if s.opts.Composer == nil {
		writeError(w, http.StatusNotImplemented, "composer not configured")
		return
	}
	var req studio.Request
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		req = studio.Request{
			Name:      r.FormValue("name"),
			Occasion:  r.FormValue("occasion"),
			Dictation: r.FormValue("dictation"),
			Source:    studio.Source(r.FormValue("source")),
			Mode:      studio.Mode(r.FormValue("mode")),
			TrackID:   r.FormValue("trackId"),
			Link:      r.FormValue("link"),
		}
		if f, hdr, err := r.FormFile("audio"); err == nil {
			defer f.Close()
			req.Upload, req.UploadName = f, hdr.Filename
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	c, err := s.opts.Composer.Compose(r.Context(), req)
	if err != nil {
		s.fail(w, "compose", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := studio.DefaultCatalog()
	if s.opts.Composer != nil {
		cat = s.opts.Composer.Catalog()
	}
	writeJSON(w, http.StatusOK, cat.Tracks())
}

func (s *Server) setCurrent(c card.Card, id string) {
	s.mu.Lock()
	s.current, s.id = &c, id
	s.mu.Unlock()
}

// adoptID records id for the loaded card if c is that card.
func (s *Server) adoptID(c card.Card, id string) {
	s.mu.Lock()
	if s.current != nil && *s.current == c {
		s.id = id
	}
	s.mu.Unlock()
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error(op, "error", err)
	} else {
		s.log.Info(op+" rejected", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, card.ErrDecode), errors.Is(err, card.ErrNoReference),
		errors.Is(err, session.ErrEmptyText),
		errors.Is(err, studio.ErrMissingField), errors.Is(err, studio.ErrUnknownTrack), errors.Is(err, studio.ErrBadSource):
		return http.StatusBadRequest
	case errors.Is(err, card.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPlaybackBlocked):
		return http.StatusForbidden
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrLoad),
		errors.Is(err, backend.ErrLyricsService), errors.Is(err, backend.ErrSpeechService),
		errors.Is(err, backend.ErrMixService), errors.Is(err, backend.ErrCardService),
		errors.Is(err, backend.ErrUploadService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
