// Package backend talks to the card backend: lyric generation, speech
// synthesis, server-side mixing, card persistence, uploads and the audio
// proxy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iskarmel/musiccard/internal/card"
)

// DefaultURL is the hosted backend.
const DefaultURL = "https://music-card-backend.onrender.com"

// maxAudioBytes caps synthesized and mixed audio responses.
const maxAudioBytes = 64 << 20

var (
	ErrLyricsService = errors.New("lyrics service unavailable")
	ErrSpeechService = errors.New("speech service unavailable")
	ErrMixService    = errors.New("mix service unavailable")
	ErrCardService   = errors.New("card service unavailable")
	ErrUploadService = errors.New("upload service unavailable")
)

// ServiceError is returned when the backend answers with a non-2xx status or
// cannot be reached. It unwraps to one of the Err*Service sentinels.
type ServiceError struct {
	Op      string
	Status  int
	Message string
	Kind    error
	Err     error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS paces outgoing requests. Zero or negative means unlimited.
	RPS    float64
	Logger *slog.Logger
}

// Client is a JSON-over-HTTP client for the card backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a backend client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second // free-tier backends cold start slowly
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     opts.Logger.With("component", "backend"),
	}
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// LyricsRequest is the body of /api/generate.
type LyricsRequest struct {
	Name     string `json:"name"`
	Occasion string `json:"occasion"`
	Prompt   string `json:"prompt"`
	Mood     string `json:"mood"`
}

type lyricsResponse struct {
	Lyrics string `json:"lyrics"`
}

// GenerateLyrics asks the backend to write a greeting.
func (c *Client) GenerateLyrics(ctx context.Context, req LyricsRequest) (string, error) {
	var out lyricsResponse
	if err := c.postJSON(ctx, "generate lyrics", "/api/generate", req, &out, ErrLyricsService); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Lyrics) == "" {
		return "", &ServiceError{Op: "generate lyrics", Message: "empty lyrics", Kind: ErrLyricsService}
	}
	return out.Lyrics, nil
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	BgURL string `json:"bgUrl,omitempty"`
}

// Synthesize returns spoken text as encoded audio.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return c.postAudio(ctx, "synthesize", "/api/tts", speechRequest{Text: text, Voice: voice}, ErrSpeechService)
}

// Mix returns the spoken text mixed over the background at bgURL.
func (c *Client) Mix(ctx context.Context, text, voice, bgURL string) ([]byte, error) {
	return c.postAudio(ctx, "mix audio", "/api/mix-audio", speechRequest{Text: text, Voice: voice, BgURL: bgURL}, ErrMixService)
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateCard stores c on the backend and returns its id.
func (c *Client) CreateCard(ctx context.Context, cd card.Card) (string, error) {
	var out createResponse
	if err := c.postJSON(ctx, "create card", "/api/cards", cd, &out, ErrCardService); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &ServiceError{Op: "create card", Message: "no id in response", Kind: ErrCardService}
	}
	return out.ID, nil
}

// FetchCard loads a stored card. A 404 is reported as card.ErrNotFound.
func (c *Client) FetchCard(ctx context.Context, id string) (card.Card, error) {
	const op = "fetch card"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/cards/"+url.PathEscape(id), "", nil, ErrCardService)
	if err != nil {
		return card.Card{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return card.Card{}, fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	if err := checkStatus(op, resp, ErrCardService); err != nil {
		return card.Card{}, err
	}
	var cd card.Card
	if err := json.NewDecoder(resp.Body).Decode(&cd); err != nil {
		return card.Card{}, &ServiceError{Op: op, Message: "decode response", Kind: ErrCardService, Err: err}
	}
	return cd, nil
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// UploadAudio sends a user audio file and returns its public URL.
func (c *Client) UploadAudio(ctx context.Context, filename string, r io.Reader) (string, error) {
	const op = "upload audio"
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/api/upload-audio", mw.FormDataContentType(), &body, ErrUploadService)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServiceError{Op: op, Status: resp.StatusCode, Message: out.Error, Kind: ErrUploadService}
	}
	if decodeErr != nil {
		return "", &ServiceError{Op: op, Message: "decode response", Kind: ErrUploadService, Err: decodeErr}
	}
	if out.URL == "" {
		return "", &ServiceError{Op: op, Message: "no url in response", Kind: ErrUploadService}
	}
	return out.URL, nil
}

// ProxyURL rewrites a remote locator through the backend's audio proxy.
// Anything that is not an http(s) URL, or already points at the backend, is
// returned unchanged.
func (c *Client) ProxyURL(locator string) string {
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return locator
	}
	if strings.HasPrefix(locator, c.baseURL+"/") {
		return locator
	}
	return c.baseURL + "/api/audio-proxy?url=" + url.QueryEscape(locator)
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any, kind error) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, op, http.MethodPost, path, "application/json", bytes.NewReader(body), kind)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp, kind); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Op: op, Message: "decode response", Kind: kind, Err: err}
	}
	return nil
}

func (c *Client) postAudio(ctx context.Context, op, path string, in any, kind error) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, op, http.MethodPost, path, "application/json", bytes.NewReader(body), kind)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp, kind); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, &ServiceError{Op: op, Message: "read audio", Kind: kind, Err: err}
	}
	if len(data) == 0 {
		return nil, &ServiceError{Op: op, Message: "empty audio", Kind: kind}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, kind error) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", "op", op, "path", path, "error", err)
		return nil, &ServiceError{Op: op, Kind: kind, Err: err}
	}
	c.log.Debug("request", "op", op, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

func checkStatus(op string, resp *http.Response, kind error) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &ServiceError{Op: op, Status: resp.StatusCode, Message: msg, Kind: kind}
}
