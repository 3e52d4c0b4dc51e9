// Package store provides the key-value backends that storage tiers are built on.
//
// # Architecture
//
// Backend is the minimal contract of the external storage service: get, set,
// remove and list over opaque byte values. Two implementations are provided:
//
//   - SQLiteStore: durable storage, one database file per tier
//   - MemoryStore: in-memory storage for tests and ephemeral tiers
//
// Backends know nothing about quotas or tiers. The tier package layers the
// Shared-tier quota and the error taxonomy on top.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Shared tier: ~/.local/share/coven/shared.db
//   - Local tier: ~/.local/share/coven/local.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
//   - ErrNotFound: the key has no stored value
//   - ErrClosed: the backend was used after Close
//
// All methods accept context.Context for cancellation support.
package store
