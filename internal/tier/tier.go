// ABOUTME: Tier enum and write error taxonomy for the two backing stores
// ABOUTME: Shared is quota-limited and synchronized, Local is unlimited and device-bound

package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier selects one of the two backing stores.
type Tier int

const (
	// Shared is replicated across devices and has a hard per-item byte quota.
	Shared Tier = iota
	// Local is confined to one device and has no quota.
	Local
)

// DefaultQuota is the per-item byte limit of the Shared tier, key name included.
const DefaultQuota = 8192

// String returns the tier name as used in configuration and logs.
func (t Tier) String() string {
	switch t {
	case Shared:
		return "shared"
	case Local:
		return "local"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Other returns the tier that is not t.
func (t Tier) Other() Tier {
	if t == Local {
		return Shared
	}
	return Local
}

// Parse converts a configuration name into a Tier. "sync" is accepted as an
// alias for Shared.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shared", "sync":
		return Shared, nil
	case "local":
		return Local, nil
	default:
		return Shared, fmt.Errorf("unknown tier %q (expected shared or local)", s)
	}
}

// ErrQuotaExceeded is returned when a Shared-tier item exceeds the quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrUnavailable is returned when the backing store fails transiently.
var ErrUnavailable = errors.New("storage unavailable")

// WriteError describes a failed tier operation.
type WriteError struct {
	Op   string // "read", "write" or "remove"
	Tier Tier
	Key  string
	Err  error // ErrQuotaExceeded or ErrUnavailable, possibly wrapping the cause
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Tier, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
