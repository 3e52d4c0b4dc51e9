// ABOUTME: Backend interface for the key-value service underneath each storage tier
// ABOUTME: Defines ErrNotFound and the minimal get/set/remove contract tiers are built on

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// ErrClosed is returned when a backend is used after Close
var ErrClosed = errors.New("store closed")

// Backend is an asynchronous key-value service. Keys and values are opaque;
// values are JSON documents by convention but the backend never inspects them.
// Each Set and Remove is atomic per key.
type Backend interface {
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every stored key in ascending order.
	Keys(ctx context.Context) ([]string, error)
	// Close releases backend resources.
	Close() error
}
