package studio

import (
	"context"
	"strings"
	"sync"
)

// Transcript is one speech recognition result. Interim results may still
// change; only final ones are kept.
type Transcript struct {
	Text  string
	Final bool
}

// Dictation accumulates final transcripts into one text.
type Dictation struct {
	mu   sync.Mutex
	text string
}

// NewDictation starts from existing text, e.g. what the user already typed.
func NewDictation(initial string) *Dictation {
	return &Dictation{text: initial}
}

// Append adds a final transcript, separated from existing text by one space.
// Interim transcripts are ignored.
func (d *Dictation) Append(t Transcript) {
	if !t.Final || t.Text == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text != "" && !strings.HasSuffix(d.text, " ") {
		d.text += " "
	}
	d.text += t.Text
}

// Text returns the accumulated text.
func (d *Dictation) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Consume appends transcripts from ch until it is closed or ctx ends, and
// returns the accumulated text.
func (d *Dictation) Consume(ctx context.Context, ch <-chan Transcript) string {
	for {
		select {
		case <-ctx.Done():
			return d.Text()
		case t, ok := <-ch:
			if !ok {
				return d.Text()
			}
			d.Append(t)
		}
	}
}
