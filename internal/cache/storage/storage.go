// Package storage provides the durable key-value backends behind the
// persistent cache tier.
//
// A Storage is a flat, shared namespace of string keys to byte values, the
// same shape as a browser's per-origin localStorage. Several writers may
// share one Storage; each is expected to keep to its own key prefix.
package storage

import (
	"errors"
	"strings"
)

// ErrStorageFull is returned by SetItem when the backend refuses a write
// because of a size quota.
var ErrStorageFull = errors.New("storage quota exceeded")

// Storage is a durable key-value store.
type Storage interface {
	// GetItem returns the value under key. A missing key is (nil, false, nil).
	GetItem(key string) ([]byte, bool, error)
	// SetItem writes value under key, replacing any previous value.
	SetItem(key string, value []byte) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error
	// Keys lists every stored key starting with prefix. An empty prefix
	// lists everything.
	Keys(prefix string) ([]string, error)
	// Close releases connections or handles held by the backend.
	Close() error
}

func filterPrefix(keys []string, prefix string) []string {
	if prefix == "" {
		return keys
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
