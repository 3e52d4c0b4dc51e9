// Package registry holds the two pieces of storage metadata shared by every
// key: the overflow set and the version map.
//
// # Overflow
//
// Overflow lists keys whose value exceeded the Shared-tier quota and are
// therefore served from the Local tier. It is persisted as a sorted JSON array
// under OverflowKey in the Local tier, written directly and never routed
// through overflow logic.
//
// # Versions
//
// Versions maps each key to the schema version its stored value was written
// under. Check returns Stale when the recorded version differs from the one
// the caller declares; the caller resets the value to its default. The map is
// one JSON object under VersionsKey so an upgrade touching several keys is
// recorded atomically.
//
// # Ownership
//
// Registries are plain values constructed once at startup and passed to every
// storage.Manager. Changes made through one process are visible to another only
// after it calls Load again.
package registry
