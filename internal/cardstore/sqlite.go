package cardstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iskarmel/musiccard/internal/card"
)

const schema = `CREATE TABLE IF NOT EXISTS cards (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    occasion    TEXT NOT NULL,
    lyrics      TEXT NOT NULL,
    audio_url   TEXT NOT NULL,
    melody_text TEXT NOT NULL,
    created_at  TEXT NOT NULL
)`

// SQLite stores cards in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("cardstore: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) CreateCard(ctx context.Context, c card.Card) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO cards (id, name, occasion, lyrics, audio_url, melody_text, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		c.Name,
		c.Occasion,
		c.Lyrics,
		c.AudioURL,
		c.MelodyText,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert card: %w", err)
	}
	return id, nil
}

func (s *SQLite) FetchCard(ctx context.Context, id string) (card.Card, error) {
	var c card.Card
	err := s.db.QueryRowContext(
		ctx,
		`SELECT name, occasion, lyrics, audio_url, melody_text FROM cards WHERE id = ?`,
		id,
	).Scan(&c.Name, &c.Occasion, &c.Lyrics, &c.AudioURL, &c.MelodyText)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Card{}, fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	if err != nil {
		return card.Card{}, fmt.Errorf("select card: %w", err)
	}
	return c, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
