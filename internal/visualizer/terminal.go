package visualizer

import (
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var barChars = []rune(" ▁▂▃▄▅▆▇█")

// Terminal draws bars with block characters on a character grid and writes
// each frame to w, redrawing in place.
type Terminal struct {
	w     io.Writer
	cols  int
	rows  int
	style lipgloss.Style

	mu     sync.Mutex
	levels []float64 // per column, in rows
}

// NewTerminal creates a cols×rows terminal target.
func NewTerminal(w io.Writer, cols, rows int) *Terminal {
	return &Terminal{
		w:      w,
		cols:   cols,
		rows:   rows,
		style:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f")),
		levels: make([]float64, cols),
	}
}

func (t *Terminal) Size() (float64, float64) {
	return float64(t.cols), float64(t.rows)
}

func (t *Terminal) Clear() {
	t.mu.Lock()
	clear(t.levels)
	t.mu.Unlock()
}

func (t *Terminal) DrawBar(b Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := int(math.Round(b.X))
	to := int(math.Round(b.X + b.Width))
	if to <= from {
		to = from + 1
	}
	for c := max(from, 0); c < min(to, t.cols); c++ {
		t.levels[c] = b.Height
	}
}

// Flush writes the current frame.
func (t *Terminal) Flush() {
	t.mu.Lock()
	frame := t.render()
	t.mu.Unlock()
	io.WriteString(t.w, "\x1b[H"+frame)
}

// String returns the current frame without styling.
func (t *Terminal) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grid()
}

func (t *Terminal) render() string {
	lines := strings.Split(t.grid(), "\n")
	for i, l := range lines {
		lines[i] = t.style.Render(l)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (t *Terminal) grid() string {
	rows := make([]string, t.rows)
	for row := range t.rows {
		var line strings.Builder
		fromBottom := float64(t.rows - 1 - row)
		for _, level := range t.levels {
			idx := 0
			if level >= fromBottom+1 {
				idx = len(barChars) - 1
			} else if level > fromBottom {
				idx = int((level - fromBottom) * float64(len(barChars)-1))
			}
			line.WriteRune(barChars[idx])
		}
		rows[row] = line.String()
	}
	return strings.Join(rows, "\n")
}
