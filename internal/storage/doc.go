// Package storage maps named, typed values onto the Shared and Local tiers.
//
// # Overview
//
// A Manager is built from a tier.Store and the two registries. Each key of the
// schema is declared with Register, which returns a typed Slot:
//
//	overflow := registry.NewOverflow(tiers, logger)
//	versions := registry.NewVersions(tiers, tier.Shared, logger)
//	m := storage.NewManager(tiers, overflow, versions, storage.Options{Logger: logger})
//
//	layout, err := storage.Register(m, storage.Definition[[]Widget]{
//	    Key:     "layout",
//	    Default: defaultLayout,
//	    Tier:    tier.Shared,
//	    Version: "2",
//	})
//
// # Reads
//
// Get starts a lazy load from the tier selected by the overflow registry and
// returns immediately; the state is Loading until the load resolves. Absent
// values and read failures both resolve to the default. When the declared
// version differs from the recorded one the value is reset to the default and
// the reset is persisted.
//
// # Writes
//
// Set updates the in-memory value at once and queues persistence. A Shared
// value whose serialized {key: value} size exceeds the quota is moved to Local
// and its key added to the overflow set; when it fits again it moves back.
// After a move the copy on the previous tier is removed. The returned Write
// carries both signals: the commit fields are final when Set returns, and
// Done/Wait report the persistence outcome. A failed persist never reverts the
// in-memory value.
//
// # Ordering
//
// Persistence for one key runs through a FIFO queue, so a migration's write
// and removal finish before the next Set for that key touches a tier. Keys do
// not wait for each other.
package storage
