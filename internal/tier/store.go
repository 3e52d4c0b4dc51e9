// ABOUTME: TierStore adapter giving uniform read/write/remove over the Shared and Local backends
// ABOUTME: Enforces the Shared-tier per-item quota on the serialized {key: value} size

package tier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-storage/internal/store"
)

// Store routes reads and writes to the backend of the requested tier.
type Store struct {
	shared store.Backend
	local  store.Backend
	quota  int
	logger *slog.Logger
}

// New creates a Store over the given backends. A non-positive quota selects DefaultQuota.
func New(shared, local store.Backend, quota int, logger *slog.Logger) *Store {
	if quota <= 0 {
		quota = DefaultQuota
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		shared: shared,
		local:  local,
		quota:  quota,
		logger: logger.With("component", "tier"),
	}
}

// Quota returns the Shared-tier per-item byte limit.
func (s *Store) Quota() int {
	return s.quota
}

// Backend returns the backend serving t.
func (s *Store) Backend(t Tier) store.Backend {
	if t == Local {
		return s.local
	}
	return s.shared
}

// Read returns the raw value of key in tier t. ok is false when the key is absent,
// which is not an error.
func (s *Store) Read(ctx context.Context, t Tier, key string) (raw []byte, ok bool, err error) {
	raw, err = s.Backend(t).Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &WriteError{Op: "read", Tier: t, Key: key, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return raw, true, nil
}

// Write stores raw under key in tier t. Shared-tier writes whose serialized
// size exceeds the quota fail with ErrQuotaExceeded before reaching the backend.
func (s *Store) Write(ctx context.Context, t Tier, key string, raw []byte) error {
	if t == Shared {
		if size := SerializedSize(key, raw); size > s.quota {
			s.logger.Debug("rejected oversize shared write", "key", key, "size", size, "quota", s.quota)
			return &WriteError{Op: "write", Tier: t, Key: key, Err: fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, size, s.quota)}
		}
	}
	if err := s.Backend(t).Set(ctx, key, raw); err != nil {
		return &WriteError{Op: "write", Tier: t, Key: key, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return nil
}

// RemoveIfPresent deletes key from tier t. Used to drop the copy left on the
// previous tier after a migration.
func (s *Store) RemoveIfPresent(ctx context.Context, t Tier, key string) error {
	if err := s.Backend(t).Remove(ctx, key); err != nil {
		return &WriteError{Op: "remove", Tier: t, Key: key, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return nil
}

// Fits reports whether a value of the given serialized size fits the Shared quota.
// Equality fits.
func (s *Store) Fits(size int) bool {
	return size <= s.quota
}

// SerializedSize returns the byte length of the compact JSON object {key: raw},
// which is what the Shared tier counts against its per-item quota.
func SerializedSize(key string, raw []byte) int {
	name, err := Marshal(key)
	if err != nil {
		return len(key) + len(raw) + 5
	}
	value := raw
	if len(value) == 0 {
		value = []byte("null")
	} else {
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err == nil {
			value = compact.Bytes()
		}
	}
	// {"key":value}
	return len(name) + len(value) + 3
}

// Marshal encodes v as compact JSON without escaping <, > and &, so sizes match
// what other readers of the Shared tier count.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
