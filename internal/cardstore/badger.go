package cardstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/iskarmel/musiccard/internal/card"
)

var keyPrefix = []byte("card:")

// Badger stores cards in a BadgerDB directory. Values are card tokens.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// OpenBadger opens the Badger store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cardstore: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{log.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) CreateCard(_ context.Context, c card.Card) (string, error) {
	token, err := card.Encode(c)
	if err != nil {
		return "", err
	}
	id := newID()
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), []byte(token))
	})
	if err != nil {
		return "", fmt.Errorf("store card: %w", err)
	}
	return id, nil
}

func (b *Badger) FetchCard(_ context.Context, id string) (card.Card, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return card.Card{}, fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	if err != nil {
		return card.Card{}, fmt.Errorf("load card: %w", err)
	}
	return card.Decode(string(val))
}

func (b *Badger) Close() error { return b.db.Close() }

func key(id string) []byte {
	return append(append([]byte{}, keyPrefix...), id...)
}

// badgerLogger routes badger output to slog. Info is demoted to debug;
// badger is chatty on open.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(f string, a ...any)   { l.log.Error(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Warningf(f string, a ...any) { l.log.Warn(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Infof(f string, a ...any)    { l.log.Debug(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.log.Debug(fmt.Sprintf(f, a...)) }
