package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRevoke(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Put([]byte("voice"))
	b := r.Put([]byte("mix!!"))

	require.True(t, IsBlob(a))
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 10, r.Size())

	data, ok := r.Get(a)
	require.True(t, ok)
	assert.Equal(t, "voice", string(data))

	r.Revoke(a)
	_, ok = r.Get(a)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 5, r.Size())

	// Revoking twice, or revoking remote locators, is a no-op.
	r.Revoke(a)
	r.Revoke("https://x/a.mp3")
	assert.Equal(t, 1, r.Len())
}

func TestGetIgnoresForeignLocators(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Get("https://x/a.mp3")
	assert.False(t, ok)
	_, ok = r.Get(Prefix + "unknown")
	assert.False(t, ok)
	assert.False(t, IsBlob("/tmp/a.mp3"))
}
