package visualizer

import "sync"

// Canvas is an in-memory render target that keeps the bars of the current
// frame.
type Canvas struct {
	width, height float64

	mu      sync.Mutex
	bars    []Bar
	clears  int
	flushes int
}

// NewCanvas creates an empty canvas of the given size.
func NewCanvas(width, height float64) *Canvas {
	return &Canvas{width: width, height: height}
}

func (c *Canvas) Size() (float64, float64) { return c.width, c.height }

func (c *Canvas) Clear() {
	c.mu.Lock()
	c.bars = c.bars[:0]
	c.clears++
	c.mu.Unlock()
}

func (c *Canvas) DrawBar(b Bar) {
	c.mu.Lock()
	c.bars = append(c.bars, b)
	c.mu.Unlock()
}

func (c *Canvas) Flush() {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
}

// Bars returns a copy of the bars drawn since the last Clear.
func (c *Canvas) Bars() []Bar {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Bar, len(c.bars))
	copy(out, c.bars)
	return out
}

// Empty reports whether nothing is drawn.
func (c *Canvas) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bars) == 0
}

// Clears returns how many times the canvas was cleared.
func (c *Canvas) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Flushes returns how many frames were presented.
func (c *Canvas) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}
