// Package studio composes new cards: it picks the backing track, writes or
// takes the lyrics, and accumulates dictated text.
package studio

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Track is one backing track of the catalog. Style is passed to lyric
// generation as the mood.
type Track struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Genre string `yaml:"genre" json:"genre"`
	Style string `yaml:"style" json:"style"`
	URL   string `yaml:"url" json:"url"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// Catalog is an ordered, id-indexed list of tracks.
type Catalog struct {
	tracks []Track
	byID   map[string]int
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := parseCatalog(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("studio: built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog in the built-in YAML layout.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Tracks []Track `yaml:"tracks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]int, len(doc.Tracks))}
	for _, t := range doc.Tracks {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" || t.URL == "" {
			return nil, fmt.Errorf("catalog track %q: id and url are required", t.Title)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog track %q: duplicate id", t.ID)
		}
		c.byID[t.ID] = len(c.tracks)
		c.tracks = append(c.tracks, t)
	}
	return c, nil
}

// Lookup returns the track with the given id.
func (c *Catalog) Lookup(id string) (Track, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Track{}, false
	}
	return c.tracks[i], true
}

// Tracks returns the tracks in catalog order.
func (c *Catalog) Tracks() []Track {
	out := make([]Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}
