// Package cardstore persists cards under server-issued identifiers.
package cardstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/card"
)

// Store creates and fetches cards. FetchCard reports a missing id as
// card.ErrNotFound, so every Store is a card.Fetcher.
type Store interface {
	CreateCard(ctx context.Context, c card.Card) (string, error)
	FetchCard(ctx context.Context, id string) (card.Card, error)
	Close() error
}

// Kinds accepted by Open.
const (
	KindRemote = "remote"
	KindSQLite = "sqlite"
	KindBadger = "badger"
	KindMemory = "memory"
)

// Options selects and configures a store.
type Options struct {
	Kind string
	// Path is the SQLite database file or the Badger directory.
	Path string
	// Backend is used by the remote store.
	Backend *backend.Client
	Logger  *slog.Logger
}

// Open returns the store named by opts.Kind.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case KindRemote, "":
		if opts.Backend == nil {
			return nil, fmt.Errorf("cardstore: remote store needs a backend client")
		}
		return Remote{opts.Backend}, nil
	case KindSQLite:
		return OpenSQLite(opts.Path)
	case KindBadger:
		return OpenBadger(BadgerOptions{Dir: opts.Path, Logger: opts.Logger})
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("cardstore: unknown kind %q", opts.Kind)
	}
}

// Remote stores cards on the card backend.
type Remote struct {
	*backend.Client
}

// Close is a no-op.
func (Remote) Close() error { return nil }

// Memory keeps cards in process memory.
type Memory struct {
	mu    sync.RWMutex
	cards map[string]card.Card
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cards: make(map[string]card.Card)}
}

func (m *Memory) CreateCard(_ context.Context, c card.Card) (string, error) {
	id := newID()
	m.mu.Lock()
	m.cards[id] = c
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) FetchCard(_ context.Context, id string) (card.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return card.Card{}, fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	return c, nil
}

func (m *Memory) Close() error { return nil }

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
