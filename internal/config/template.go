// ABOUTME: Config file template written by covenstore init
// ABOUTME: Ships the default dashboard schema with each key's tier and default value

package config

import (
	"fmt"

	"github.com/2389/coven-storage/internal/tier"
)

// Template returns a YAML config for the given tier databases with the
// default dashboard schema.
func Template(sharedPath, localPath string) string {
	return fmt.Sprintf(`# coven-storage configuration
# Generated by covenstore init

tiers:
  shared:
    path: %q
  local:
    path: %q
  # Largest serialized {key: value} size accepted by the shared tier
  quota_bytes: %d

registry:
  versions_tier: "shared"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  addr: %q
  path: %q

watch:
  debounce: "%s"

keys:
  - name: "layout"
    tier: "shared"
    default: []
  - name: "goals"
    tier: "shared"
    default: []
  - name: "events"
    tier: "local"
    default: {}
  - name: "preferences"
    tier: "shared"
    default: {}
  - name: "ghostEvents"
    tier: "shared"
    default: []
  - name: "virtualCalendars"
    tier: "shared"
    default: []
  - name: "customViewSize"
    tier: "shared"
    default: 4
  - name: "synonyms"
    tier: "shared"
    default: []
`, sharedPath, localPath, tier.DefaultQuota, DefaultMetricsAddr, DefaultMetricsPath, DefaultDebounce)
}
