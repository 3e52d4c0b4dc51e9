// ABOUTME: Per-key slot implementing get/set over an async cell with tier routing
// ABOUTME: Loads lazily, resets on version drift, commits optimistically and persists through a FIFO queue

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-storage/internal/cell"
	"github.com/2389/coven-storage/internal/registry"
	"github.com/2389/coven-storage/internal/tier"
)

// Definition declares one key of the schema.
type Definition[V any] struct {
	// Key names the slot. Keys are unique per Manager.
	Key string
	// Default is used when nothing is stored, when a read fails, and after a
	// version reset. Treat it as immutable.
	Default V
	// Tier is the declared policy. Shared values move to Local while they
	// exceed the quota.
	Tier tier.Tier
	// Version is an opaque schema tag. Empty means unversioned.
	Version string
}

type commitMode int

const (
	modeSet commitMode = iota
	modeReset
	modeClear
)

// Slot is the handle for one key.
type Slot[V any] struct {
	m      *Manager
	def    Definition[V]
	logger *slog.Logger
	cell   *cell.Cell[V]
	queue  writeQueue

	started     atomic.Bool
	loadStarted chan struct{}
	startDone   chan struct{}

	// commitMu orders commits so the in-memory value follows call order.
	commitMu sync.Mutex

	// Guarded by mu. current only moves after a successful persist; stray is
	// set while a copy may remain on current.Other().
	mu        sync.Mutex
	current   tier.Tier
	tierKnown bool
	stray     bool
}

// Register declares a key on m and returns its slot. Nothing is read until the
// first Get, Await or Set.
func Register[V any](m *Manager, def Definition[V]) (*Slot[V], error) {
	if err := m.claim(def.Key); err != nil {
		return nil, err
	}
	s := &Slot[V]{
		m:         m,
		def:       def,
		logger:    m.logger.With("key", def.Key),
		cell:        cell.New[V](),
		loadStarted: make(chan struct{}),
		startDone:   make(chan struct{}),
	}
	if m.mirror != nil {
		s.cell.Subscribe(s.mirrorCurrent)
	}
	return s, nil
}

// mirrorCurrent publishes the latest resolved value. It reads the cell again
// rather than trusting v, since notifications from a load and a write can
// arrive out of order.
func (s *Slot[V]) mirrorCurrent(_ V, state cell.State) {
	if !state.Resolved() {
		return
	}
	v, _ := s.cell.Snapshot()
	raw, err := tier.Marshal(v)
	if err != nil {
		return
	}
	s.m.mirrorValue(s.def.Key, raw)
}

// Key returns the slot key.
func (s *Slot[V]) Key() string {
	return s.def.Key
}

// Definition returns the declaration the slot was registered with.
func (s *Slot[V]) Definition() Definition[V] {
	return s.def
}

// Get returns the current value and state, starting the load on first use.
// While the state is Loading the value is the zero value.
func (s *Slot[V]) Get(ctx context.Context) (V, cell.State) {
	s.start(ctx)
	<-s.loadStarted
	return s.cell.Snapshot()
}

// Await returns the value once it is resolved, or ctx.Err().
func (s *Slot[V]) Await(ctx context.Context) (V, error) {
	s.start(ctx)
	return s.cell.Wait(ctx)
}

// Subscribe registers fn for every state transition of the slot. Callbacks run
// synchronously and must not call Get, Set, SetWithTierOverride or Clear on
// the same slot.
func (s *Slot[V]) Subscribe(fn cell.Callback[V]) (unsubscribe func()) {
	return s.cell.Subscribe(fn)
}

// Tier returns the tier holding the value as of the last successful persist.
func (s *Slot[V]) Tier() tier.Tier {
	return s.holdingTier()
}

// Set stores v under the declared policy, moving the value between tiers when
// it crosses the Shared quota.
func (s *Slot[V]) Set(ctx context.Context, v V) *Write {
	s.start(ctx)
	<-s.startDone
	return s.commit(ctx, v, nil, modeSet)
}

// SetWithTierOverride stores v in t regardless of policy and overflow state.
// The overflow registry is not changed.
func (s *Slot[V]) SetWithTierOverride(ctx context.Context, v V, t tier.Tier) *Write {
	s.start(ctx)
	<-s.startDone
	return s.commit(ctx, v, &t, modeSet)
}

// Clear deletes the stored value from both tiers. The in-memory value returns
// to the default, which is what a later load resolves to.
func (s *Slot[V]) Clear(ctx context.Context) *Write {
	s.start(ctx)
	<-s.startDone
	return s.commit(ctx, s.def.Default, nil, modeClear)
}

// start kicks off the load and the version check exactly once.
func (s *Slot[V]) start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.startDone)

	ctx = context.WithoutCancel(ctx)
	t := s.holdingTier()
	s.cell.Load(func() V {
		return s.load(ctx, t)
	})
	close(s.loadStarted)
	s.checkVersion(ctx)
}

func (s *Slot[V]) holdingTier() tier.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tierKnown {
		s.current = s.m.activeTier(s.def.Key, s.def.Tier)
		s.tierKnown = true
	}
	return s.current
}

// needsRemoval reports whether a successful w must drop a copy on
// w.Tier.Other(). That is the case after a migration, when the last persisted
// tier differs (another Manager moved the key, or a migration write failed),
// or when an earlier removal did not go through.
func (s *Slot[V]) needsRemoval(w *Write) bool {
	held := s.holdingTier()
	s.mu.Lock()
	defer s.mu.Unlock()
	return w.Tier != w.Previous || held != w.Tier || s.stray
}

// settle records that the value now lives on t.
func (s *Slot[V]) settle(t tier.Tier, stray bool) {
	s.mu.Lock()
	s.current = t
	s.tierKnown = true
	s.stray = stray
	s.mu.Unlock()
}

// load reads the value from t. Every failure resolves to the default.
func (s *Slot[V]) load(ctx context.Context, t tier.Tier) V {
	raw, ok, err := s.m.tiers.Read(ctx, t, s.def.Key)
	if err != nil {
		s.m.metrics.recordRead(t, "error")
		s.logger.Warn("read failed, using default", "tier", t, "error", err)
		return s.def.Default
	}
	if !ok {
		s.m.metrics.recordRead(t, "absent")
		return s.def.Default
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		s.m.metrics.recordRead(t, "error")
		s.logger.Warn("stored value does not decode, using default", "tier", t, "error", err)
		return s.def.Default
	}

	s.m.metrics.recordRead(t, "ok")
	return v
}

func (s *Slot[V]) checkVersion(ctx context.Context) {
	if s.def.Version == "" {
		return
	}

	status, err := s.m.versions.Check(ctx, s.def.Key, s.def.Version)
	if err != nil {
		s.logger.Warn("version registry not persisted", "error", err)
	}

	switch status {
	case registry.Stale:
		s.logger.Info("cache version mismatch, resetting to default", "version", s.def.Version)
		s.m.metrics.recordReset(s.def.Key)
		s.commit(ctx, s.def.Default, nil, modeReset)
	case registry.Unknown:
		s.logger.Debug("recorded first version", "version", s.def.Version)
	}
}

// commit applies v in memory immediately and queues its persistence.
func (s *Slot[V]) commit(ctx context.Context, v V, override *tier.Tier, mode commitMode) *Write {
	key := s.def.Key

	var raw []byte
	size := 0
	if mode != modeClear {
		encoded, err := tier.Marshal(v)
		if err != nil {
			s.logger.Error("value does not encode", "error", err)
			return failedWrite(key, fmt.Errorf("encoding %s: %w", key, err))
		}
		raw = encoded
		size = tier.SerializedSize(key, raw)
	}

	ctx = context.WithoutCancel(ctx)
	w := newWrite(key)
	w.Size = size

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// The registry is shared with other Managers, so it is the authority on
	// where the value sits now.
	w.Previous = s.m.activeTier(key, s.def.Tier)
	w.Tier, w.RegistryErr = s.m.resolveTier(ctx, key, s.def.Tier, size, override)
	w.Committed = true

	if mode == modeReset {
		s.cell.BeginReset(v)
	} else {
		s.cell.Write(v)
	}

	s.m.metrics.pendingAdd(1)
	s.queue.push(func() {
		s.persist(ctx, w, raw, mode)
	})

	return w
}

// persist writes the committed value to its tier and drops the copy on the
// previous tier. Failures are logged and reported on w; the in-memory value
// is kept either way.
func (s *Slot[V]) persist(ctx context.Context, w *Write, raw []byte, mode commitMode) {
	var err error
	if mode == modeClear {
		err = errors.Join(
			s.m.tiers.RemoveIfPresent(ctx, tier.Shared, w.Key),
			s.m.tiers.RemoveIfPresent(ctx, tier.Local, w.Key),
		)
		if err != nil {
			s.logger.Warn("failed to clear stored value", "write_id", w.ID, "error", err)
		}
		s.settle(s.m.activeTier(w.Key, s.def.Tier), err != nil)
	} else {
		err = s.m.tiers.Write(ctx, w.Tier, w.Key, raw)
		s.recordWriteOutcome(w, err)
		if err == nil {
			stray := false
			if s.needsRemoval(w) {
				other := w.Tier.Other()
				if rmErr := s.m.tiers.RemoveIfPresent(ctx, other, w.Key); rmErr != nil {
					s.logger.Warn("failed to remove copy from previous tier",
						"write_id", w.ID,
						"tier", other,
						"error", rmErr,
					)
					err = rmErr
					stray = true
				}
			}
			s.settle(w.Tier, stray)
		}
	}

	if mode == modeReset {
		s.cell.FinishReset()
	}
	s.m.metrics.pendingAdd(-1)
	w.finish(err)
}

func (s *Slot[V]) recordWriteOutcome(w *Write, err error) {
	switch {
	case err == nil:
		s.m.metrics.recordWrite(w.Tier, "ok", w.Size)
		s.logger.Debug("persisted", "write_id", w.ID, "tier", w.Tier, "size", w.Size)
	case errors.Is(err, tier.ErrQuotaExceeded):
		// Only reachable through an override or a quota change underneath us.
		s.m.metrics.recordWrite(w.Tier, "quota_exceeded", w.Size)
		s.logger.Error("shared quota exceeded after tier resolution",
			"write_id", w.ID,
			"size", w.Size,
			"error", err,
		)
	default:
		s.m.metrics.recordWrite(w.Tier, "unavailable", w.Size)
		s.logger.Warn("persist failed, keeping in-memory value",
			"write_id", w.ID,
			"tier", w.Tier,
			"error", err,
		)
	}
}
