// Package config handles configuration loading for coven-storage.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The format follows the file extension: .toml is TOML, anything
// else is YAML. Load applies defaults and validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_STORAGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/storage.yaml
//  3. ~/.config/coven/storage.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tiers:
//	  shared:
//	    path: "${COVEN_SYNC_DIR}/shared.db"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Tiers:
//
//	tiers:
//	  shared:
//	    path: "~/Sync/coven/shared.db"   # replicated, quota-limited
//	  local:
//	    path: "~/.local/share/coven/local.db"
//	  quota_bytes: 8192                  # per-item limit for shared
//
// Registries:
//
//	registry:
//	  versions_tier: "shared"   # shared or local
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  addr: "localhost:9464"
//	  path: "/metrics"
//
// Watcher:
//
//	watch:
//	  debounce: "250ms"
//
// Key schema. Defaults may be any YAML value and are stored as JSON:
//
//	keys:
//	  - name: "layout"
//	    tier: "shared"
//	    version: "2"
//	    default: []
//
// # Validation
//
// Load() validates:
//
//   - Both tier paths are set and distinct
//   - Tier names (shared, local; sync is accepted for shared)
//   - Logging level and format
//   - Key names are unique and not reserved by the registries
//   - Durations parse with time.ParseDuration
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/storage.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
