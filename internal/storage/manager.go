// ABOUTME: Storage manager composing tiers, overflow and version registries into per-key slots
// ABOUTME: Decides the tier for every write and migrates values across the quota boundary

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-storage/internal/registry"
	"github.com/2389/coven-storage/internal/tier"
)

// ErrDuplicateKey is returned when a key is registered twice on one Manager
var ErrDuplicateKey = errors.New("key already registered")

// ErrReservedKey is returned when a key collides with registry metadata
var ErrReservedKey = errors.New("key is reserved")

// ErrEmptyKey is returned when a definition has no key
var ErrEmptyKey = errors.New("key cannot be empty")

// Options holds the optional collaborators of a Manager.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Mirror  Mirror
}

// Manager owns the slots of one schema. The registries it is given are shared
// with every other Manager in the process.
type Manager struct {
	tiers    *tier.Store
	overflow *registry.Overflow
	versions *registry.Versions
	logger   *slog.Logger
	metrics  *Metrics
	mirror   Mirror

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewManager creates a Manager over the given tier store and registries.
func NewManager(tiers *tier.Store, overflow *registry.Overflow, versions *registry.Versions, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tiers:    tiers,
		overflow: overflow,
		versions: versions,
		logger:   logger.With("component", "storage"),
		metrics:  opts.Metrics,
		mirror:   opts.Mirror,
		keys:     make(map[string]struct{}),
	}
}

// Keys returns the registered keys in ascending order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.keys))
	for k := range m.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overflow returns the overflow registry.
func (m *Manager) Overflow() *registry.Overflow {
	return m.overflow
}

// Versions returns the version registry.
func (m *Manager) Versions() *registry.Versions {
	return m.versions
}

// Tiers returns the underlying tier store.
func (m *Manager) Tiers() *tier.Store {
	return m.tiers
}

func (m *Manager) claim(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if key == registry.OverflowKey || key == registry.VersionsKey {
		return fmt.Errorf("%w: %s", ErrReservedKey, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	m.keys[key] = struct{}{}
	return nil
}

// activeTier is where key is served from under its declared policy.
func (m *Manager) activeTier(key string, policy tier.Tier) tier.Tier {
	if m.overflow.IsOverflowing(key) {
		return tier.Local
	}
	return policy
}

// resolveTier picks the tier for a write of the given serialized size and
// updates the overflow registry when the value crosses the quota boundary.
// An override wins and leaves the registry untouched. The returned error is a
// registry persistence failure; the tier is valid regardless.
func (m *Manager) resolveTier(ctx context.Context, key string, policy tier.Tier, size int, override *tier.Tier) (tier.Tier, error) {
	if override != nil {
		return *override, nil
	}

	overflowing := m.overflow.IsOverflowing(key)
	active := policy
	if overflowing {
		active = tier.Local
	}

	switch {
	case active == tier.Shared && !m.tiers.Fits(size):
		m.logger.Info("value exceeds shared quota, moving to local",
			"key", key,
			"size", size,
			"quota", m.tiers.Quota(),
		)
		m.metrics.recordMigration(tier.Local)
		return tier.Local, m.overflow.SetOverflowing(ctx, key, true)

	case active == tier.Local && overflowing && policy == tier.Shared && m.tiers.Fits(size):
		m.logger.Info("value fits shared quota again, moving to shared",
			"key", key,
			"size", size,
		)
		m.metrics.recordMigration(tier.Shared)
		return tier.Shared, m.overflow.SetOverflowing(ctx, key, false)
	}

	return active, nil
}

func (m *Manager) mirrorValue(key string, raw []byte) {
	if m.mirror == nil {
		return
	}
	m.mirror.Mirror(key, raw)
}
