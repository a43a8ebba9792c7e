// Package blob keeps locally-created audio payloads (synthesized speech,
// server mixes, dictation uploads) addressable by opaque locators until the
// channel that plays them revokes them.
package blob

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix marks locators owned by a Registry.
const Prefix = "blob:musiccard/"

// Registry maps blob locators to their bytes.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	blobs map[string][]byte
	bytes int
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, blobs: make(map[string][]byte)}
}

// IsBlob reports whether locator was issued by a Registry.
func IsBlob(locator string) bool {
	return strings.HasPrefix(locator, Prefix)
}

// Put stores data and returns its new locator.
func (r *Registry) Put(data []byte) string {
	loc := Prefix + uuid.NewString()
	r.mu.Lock()
	r.blobs[loc] = data
	r.bytes += len(data)
	r.mu.Unlock()
	r.log.Debug("blob created", "locator", loc, "bytes", len(data))
	return loc
}

// Get returns the bytes behind locator.
func (r *Registry) Get(locator string) ([]byte, bool) {
	if !IsBlob(locator) {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[locator]
	return data, ok
}

// Revoke releases locator. Unknown and non-blob locators are ignored.
func (r *Registry) Revoke(locator string) {
	if !IsBlob(locator) {
		return
	}
	r.mu.Lock()
	data, ok := r.blobs[locator]
	if ok {
		delete(r.blobs, locator)
		r.bytes -= len(data)
	}
	r.mu.Unlock()
	if ok {
		r.log.Debug("blob revoked", "locator", locator)
	}
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Size returns the total bytes held.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}
