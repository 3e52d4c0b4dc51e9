// ABOUTME: Persisted set of keys forced onto the Local tier after exceeding the Shared quota
// ABOUTME: Stored in the Local tier under a reserved key and never subject to overflow routing itself

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-storage/internal/tier"
)

// OverflowKey is the reserved Local-tier key holding the overflow set.
const OverflowKey = "overSizeStorage"

// Persister is the subset of the tier store the registries need.
type Persister interface {
	Read(ctx context.Context, t tier.Tier, key string) ([]byte, bool, error)
	Write(ctx context.Context, t tier.Tier, key string, raw []byte) error
}

// Overflow tracks which keys are served from the Local tier because their
// value did not fit the Shared quota.
type Overflow struct {
	persister Persister
	logger    *slog.Logger

	// mu also serializes persistence so the stored set follows memory order.
	mu      sync.Mutex
	members map[string]struct{}
}

// NewOverflow creates an empty registry. Call Load to read the persisted set.
func NewOverflow(p Persister, logger *slog.Logger) *Overflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Overflow{
		persister: p,
		logger:    logger.With("component", "overflow-registry"),
		members:   make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the persisted one. On failure the
// previous in-memory state is kept and the error returned.
func (o *Overflow) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, ok, err := o.persister.Read(ctx, tier.Local, OverflowKey)
	if err != nil {
		return fmt.Errorf("reading overflow registry: %w", err)
	}

	members := make(map[string]struct{})
	if ok {
		var keys []string
		if err := json.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("decoding overflow registry: %w", err)
		}
		for _, k := range keys {
			members[k] = struct{}{}
		}
	}

	o.members = members

	o.logger.Debug("overflow registry loaded", "keys", len(members))
	return nil
}

// IsOverflowing reports whether key is currently redirected to the Local tier.
func (o *Overflow) IsOverflowing(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.members[key]
	return ok
}

// SetOverflowing adds or removes key. It persists only when membership
// actually changes. A persistence failure is returned but the in-memory change
// stays; the next successful write stores the current set.
func (o *Overflow) SetOverflowing(ctx context.Context, key string, overflowing bool) error {
	if key == OverflowKey {
		return fmt.Errorf("overflow registry cannot reference itself")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	_, present := o.members[key]
	if present == overflowing {
		return nil
	}

	if overflowing {
		o.members[key] = struct{}{}
	} else {
		delete(o.members, key)
	}

	o.logger.Info("overflow membership changed", "key", key, "overflowing", overflowing)

	raw, err := json.Marshal(o.sortedLocked())
	if err != nil {
		return fmt.Errorf("encoding overflow registry: %w", err)
	}
	if err := o.persister.Write(ctx, tier.Local, OverflowKey, raw); err != nil {
		o.logger.Error("failed to persist overflow registry", "key", key, "error", err)
		return fmt.Errorf("persisting overflow registry: %w", err)
	}
	return nil
}

// Keys returns the overflowing keys in ascending order.
func (o *Overflow) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedLocked()
}

func (o *Overflow) sortedLocked() []string {
	keys := make([]string, 0, len(o.members))
	for k := range o.members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
