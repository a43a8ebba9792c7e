package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/iskarmel/musiccard/internal/audio"
)

// HTTPHandler serves the session mix as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster[[]int16]
	ffmpeg      string
	log         *slog.Logger
}

// NewHTTPHandler creates an HTTP stream handler. An empty ffmpeg path means
// "ffmpeg" from PATH.
func NewHTTPHandler(b *Broadcaster[[]int16], ffmpeg string, log *slog.Logger) *HTTPHandler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{broadcaster: b, ffmpeg: ffmpeg, log: log.With("component", "http-stream")}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, h.ffmpeg,
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("stdin pipe", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("stdout pipe", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error("ffmpeg start", "error", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "musiccard")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("listener connected", "total", h.broadcaster.ListenerCount())
	defer h.log.Info("listener disconnected")

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn("ffmpeg read", "error", err)
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
