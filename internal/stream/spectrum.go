package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iskarmel/musiccard/internal/visualizer"
)

const spectrumWriteWait = 2 * time.Second

// SpectrumFrame is one presented visualizer frame. An empty Bars slice is a
// cleared surface.
type SpectrumFrame struct {
	Width  float64          `json:"width"`
	Height float64          `json:"height"`
	Bars   []visualizer.Bar `json:"bars"`
}

// SpectrumHub is a visualizer render target that publishes every flushed
// frame to websocket subscribers.
type SpectrumHub struct {
	width, height float64
	broadcaster   *Broadcaster[SpectrumFrame]
	upgrader      websocket.Upgrader
	log           *slog.Logger

	mu      sync.Mutex
	pending []visualizer.Bar
	last    SpectrumFrame
}

// NewSpectrumHub creates a hub with a logical width×height surface.
func NewSpectrumHub(width, height float64, log *slog.Logger) *SpectrumHub {
	if log == nil {
		log = slog.Default()
	}
	return &SpectrumHub{
		width:       width,
		height:      height,
		broadcaster: NewBroadcaster[SpectrumFrame](8),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  log.With("component", "spectrum"),
		last: SpectrumFrame{Width: width, Height: height, Bars: []visualizer.Bar{}},
	}
}

func (h *SpectrumHub) Size() (float64, float64) { return h.width, h.height }

func (h *SpectrumHub) Clear() {
	h.mu.Lock()
	h.pending = h.pending[:0]
	h.mu.Unlock()
}

func (h *SpectrumHub) DrawBar(b visualizer.Bar) {
	h.mu.Lock()
	h.pending = append(h.pending, b)
	h.mu.Unlock()
}

// Flush publishes the bars drawn since the last Clear.
func (h *SpectrumHub) Flush() {
	h.mu.Lock()
	bars := make([]visualizer.Bar, len(h.pending))
	copy(bars, h.pending)
	frame := SpectrumFrame{Width: h.width, Height: h.height, Bars: bars}
	h.last = frame
	h.mu.Unlock()
	h.broadcaster.Publish(frame)
}

// Last returns the most recently flushed frame.
func (h *SpectrumHub) Last() SpectrumFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Subscribers returns the number of connected websocket clients.
func (h *SpectrumHub) Subscribers() int { return h.broadcaster.ListenerCount() }

func (h *SpectrumHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)
	h.log.Debug("client connected", "remote_addr", r.RemoteAddr, "total", h.Subscribers())

	// Clients only listen; reading surfaces their close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("read error", "error", err)
				}
				return
			}
		}
	}()

	send := func(f SpectrumFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(spectrumWriteWait))
		return conn.WriteJSON(f) == nil
	}
	if !send(h.Last()) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case f := <-listener.C:
			if !send(f) {
				return
			}
		}
	}
}
