package backend

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskarmel/musiccard/internal/card"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", APIKey: "secret"})
}

func TestGenerateLyrics(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]string{"name": "Анна", "occasion": "день рождения", "prompt": "", "mood": "rap"}, req)
		json.NewEncoder(w).Encode(map[string]string{"lyrics": "Куплет"})
	}))

	got, err := c.GenerateLyrics(t.Context(), LyricsRequest{Name: "Анна", Occasion: "день рождения", Mood: "rap"})
	require.NoError(t, err)
	assert.Equal(t, "Куплет", got)
}

func TestGenerateLyricsServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":"model overloaded"}`)
	}))

	_, err := c.GenerateLyrics(t.Context(), LyricsRequest{Name: "x"})
	require.ErrorIs(t, err, ErrLyricsService)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "model overloaded", se.Message)
}

func TestMixAndSynthesize(t *testing.T) {
	var bodies []map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		bodies = append(bodies, req)
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "ID3"+r.URL.Path)
	}))

	mix, err := c.Mix(t.Context(), "Привет", "alena", "https://x/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "ID3/api/mix-audio", string(mix))

	speech, err := c.Synthesize(t.Context(), "Привет", "filipp")
	require.NoError(t, err)
	assert.Equal(t, "ID3/api/tts", string(speech))

	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]string{"text": "Привет", "voice": "alena", "bgUrl": "https://x/a.mp3"}, bodies[0])
	assert.Equal(t, map[string]string{"text": "Привет", "voice": "filipp"}, bodies[1])
}

func TestMixFailureIsMixServiceError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ffmpeg crashed", http.StatusInternalServerError)
	}))
	_, err := c.Mix(t.Context(), "t", "v", "https://x/a.mp3")
	assert.ErrorIs(t, err, ErrMixService)
	assert.NotErrorIs(t, err, ErrSpeechService)
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.Synthesize(t.Context(), "t", "")
	assert.ErrorIs(t, err, ErrSpeechService)
}

func TestCardsRoundTrip(t *testing.T) {
	stored := map[string]card.Card{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cards", func(w http.ResponseWriter, r *http.Request) {
		var c card.Card
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		stored["42"] = c
		json.NewEncoder(w).Encode(map[string]string{"id": "42"})
	})
	mux.HandleFunc("GET /api/cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, ok := stored[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(c)
	})
	c := newTestClient(t, mux)

	want := card.Card{Name: "Анна", Occasion: "юбилей", Lyrics: "Строка", AudioURL: "https://x/a.mp3", MelodyText: "Баста"}
	id, err := c.CreateCard(t.Context(), want)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	got, err := c.FetchCard(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = c.FetchCard(t.Context(), "missing")
	assert.ErrorIs(t, err, card.ErrNotFound)
	assert.True(t, card.Unavailable(err))
}

func TestFetchCardServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.FetchCard(t.Context(), "1")
	assert.ErrorIs(t, err, ErrCardService)
	assert.NotErrorIs(t, err, card.ErrNotFound)
}

func TestUploadAudio(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload-audio", r.URL.Path)
		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "song.mp3", hdr.Filename)
		assert.Equal(t, "mp3 bytes", string(data))
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn/x/song.mp3"})
	}))

	got, err := c.UploadAudio(t.Context(), "song.mp3", strings.NewReader("mp3 bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x/song.mp3", got)
}

func TestUploadAudioRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		io.WriteString(w, `{"error":"file too large"}`)
	}))
	_, err := c.UploadAudio(t.Context(), "big.wav", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUploadService)
	assert.Contains(t, err.Error(), "file too large")
}

func TestProxyURL(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://api.example/"})
	tests := map[string]string{
		"https://www.soundhelix.com/a b.mp3": "https://api.example/api/audio-proxy?url=https%3A%2F%2Fwww.soundhelix.com%2Fa+b.mp3",
		"http://x/y.mp3":                     "https://api.example/api/audio-proxy?url=http%3A%2F%2Fx%2Fy.mp3",
		"https://api.example/files/1.mp3":    "https://api.example/files/1.mp3",
		"blob:musiccard/123":                 "blob:musiccard/123",
		"/home/me/a.mp3":                     "/home/me/a.mp3",
	}
	for in, want := range tests {
		assert.Equal(t, want, c.ProxyURL(in), in)
	}
}
