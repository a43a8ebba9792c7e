package cardstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskarmel/musiccard/internal/backend"
	"github.com/iskarmel/musiccard/internal/card"
)

var sample = card.Card{
	Name:       "Анна",
	Occasion:   "день рождения",
	Lyrics:     "С днём рождения!\nПусть всё получится.",
	AudioURL:   "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3",
	MelodyText: "Баста - Сансара",
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "cards.db"))
	require.NoError(t, err)
	bd, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	out := map[string]Store{
		KindMemory: NewMemory(),
		KindSQLite: sq,
		KindBadger: bd,
	}
	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func TestCreateFetch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.CreateCard(t.Context(), sample)
			require.NoError(t, err)
			assert.Len(t, id, 32)

			got, err := s.FetchCard(t.Context(), id)
			require.NoError(t, err)
			assert.Equal(t, sample, got)

			other, err := s.CreateCard(t.Context(), card.Card{Name: "Б"})
			require.NoError(t, err)
			assert.NotEqual(t, id, other)
		})
	}
}

func TestFetchMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.FetchCard(t.Context(), "nope")
			assert.ErrorIs(t, err, card.ErrNotFound)
		})
	}
}

func TestSQLitePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cards.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	id, err := s.CreateCard(t.Context(), sample)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.FetchCard(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestBadgerPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	id, err := s.CreateCard(t.Context(), sample)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.FetchCard(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Kind: "Memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(Options{Kind: KindRemote})
	assert.Error(t, err)

	_, err = Open(Options{Kind: "redis"})
	assert.Error(t, err)

	_, err = Open(Options{Kind: KindBadger})
	assert.Error(t, err)
}

func TestRemoteStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"id": "abc"})
			return
		}
		json.NewEncoder(w).Encode(sample)
	}))
	defer srv.Close()

	s, err := Open(Options{Kind: KindRemote, Backend: backend.NewClient(backend.Options{BaseURL: srv.URL})})
	require.NoError(t, err)
	id, err := s.CreateCard(t.Context(), sample)
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	// Stores plug straight into the link resolver.
	res, err := card.NewResolver(s).Resolve(t.Context(), map[string][]string{card.ParamID: {id}})
	require.NoError(t, err)
	assert.Equal(t, sample, res.Card)
	assert.NoError(t, s.Close())
}
