// ABOUTME: Persisted mapping from key to version tag used to detect schema drift
// ABOUTME: One shared blob for all keys so a multi-key upgrade invalidates atomically

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/2389/coven-storage/internal/tier"
)

// VersionsKey is the reserved key holding the version map.
const VersionsKey = "storageVersions"

// Status is the outcome of a version check.
type Status int

const (
	// Unknown means no version was ever recorded for the key.
	Unknown Status = iota
	// Current means the recorded version matches.
	Current
	// Stale means a different version was recorded; the value must be reset.
	Stale
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Current:
		return "current"
	case Stale:
		return "stale"
	default:
		return "invalid"
	}
}

// Versions is the in-memory mirror of the persisted version map.
type Versions struct {
	persister Persister
	tier      tier.Tier
	logger    *slog.Logger

	mu       sync.Mutex
	versions map[string]string
}

// NewVersions creates an empty registry persisted in tier t. Call Load to read
// the persisted map.
func NewVersions(p Persister, t tier.Tier, logger *slog.Logger) *Versions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Versions{
		persister: p,
		tier:      t,
		logger:    logger.With("component", "version-registry"),
		versions:  make(map[string]string),
	}
}

// Load replaces the in-memory map with the persisted one. On failure the
// previous in-memory state is kept and the error returned.
func (v *Versions) Load(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, ok, err := v.persister.Read(ctx, v.tier, VersionsKey)
	if err != nil {
		return fmt.Errorf("reading version registry: %w", err)
	}

	versions := make(map[string]string)
	if ok {
		if err := json.Unmarshal(raw, &versions); err != nil {
			return fmt.Errorf("decoding version registry: %w", err)
		}
	}

	v.versions = versions

	v.logger.Debug("version registry loaded", "keys", len(versions))
	return nil
}

// Check compares the recorded version of key with expected. Unknown and Stale
// both record expected, so the next check at the same version is Current. The
// returned status is valid even when persisting the update fails.
func (v *Versions) Check(ctx context.Context, key, expected string) (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	recorded, ok := v.versions[key]
	var status Status
	switch {
	case !ok:
		status = Unknown
	case recorded == expected:
		return Current, nil
	default:
		status = Stale
		v.logger.Info("version mismatch detected", "key", key, "recorded", recorded, "expected", expected)
	}

	v.versions[key] = expected
	if err := v.persistLocked(ctx); err != nil {
		v.logger.Error("failed to persist version registry", "key", key, "error", err)
		return status, err
	}
	return status, nil
}

// Get returns the recorded version of key.
func (v *Versions) Get(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	version, ok := v.versions[key]
	return version, ok
}

// Snapshot returns a copy of the whole map.
func (v *Versions) Snapshot() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return maps.Clone(v.versions)
}

func (v *Versions) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(v.versions)
	if err != nil {
		return fmt.Errorf("encoding version registry: %w", err)
	}
	if err := v.persister.Write(ctx, v.tier, VersionsKey, raw); err != nil {
		return fmt.Errorf("persisting version registry: %w", err)
	}
	return nil
}
