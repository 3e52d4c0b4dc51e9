// ABOUTME: Two-signal result of a set: the immediate in-memory commit and the deferred persistence outcome
// ABOUTME: Tests and callers can assert on each independently

package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/2389/coven-storage/internal/tier"
)

// Write describes one Set. The exported fields are the commit result and are
// fixed when Set returns. Persistence completes later; use Done, Wait or Err.
type Write struct {
	// ID correlates log lines for this write.
	ID string
	// Key is the slot key.
	Key string
	// Committed is true when the in-memory value was updated.
	Committed bool
	// Tier is where the value is being persisted.
	Tier tier.Tier
	// Previous is the tier that held the value before this write.
	Previous tier.Tier
	// Size is the serialized {key: value} size used for the quota decision.
	Size int
	// RegistryErr is set when the overflow registry could not be persisted.
	// The tier decision still took effect.
	RegistryErr error

	done chan struct{}
	err  error
}

func newWrite(key string) *Write {
	return &Write{
		ID:   uuid.NewString(),
		Key:  key,
		done: make(chan struct{}),
	}
}

// failedWrite returns a Write that was never committed.
func failedWrite(key string, err error) *Write {
	w := newWrite(key)
	w.finish(err)
	return w
}

// Migrated reports whether this write moved the value to another tier.
func (w *Write) Migrated() bool {
	return w.Committed && w.Tier != w.Previous
}

// Done is closed once persistence has finished, successfully or not.
func (w *Write) Done() <-chan struct{} {
	return w.done
}

// Err returns the persistence error. It is only meaningful after Done is closed.
func (w *Write) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until persistence finishes and returns its error, or returns
// ctx.Err() if ctx ends first. Persistence itself is not cancelled.
func (w *Write) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Write) finish(err error) {
	w.err = err
	close(w.done)
}
