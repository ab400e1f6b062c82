// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for TabSync components.
//
// Configuration is loaded from a single file specified by:
//   - TABSYNC_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration defaults, used when the corresponding config string is empty.
const (
	// DefaultDebounce is the mutation coalescing window.
	DefaultDebounce = 2 * time.Second

	// DefaultReconcileThrottle is the minimum gap between full
	// reconciliation passes, enforced across process restarts.
	DefaultReconcileThrottle = 30 * time.Second

	// DefaultSessionTTL is how long the in-process session tier
	// keeps the document.
	DefaultSessionTTL = 12 * time.Hour
)

// Config is the master configuration for TabSync.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Storage configures the document key, tier quotas, and compression.
	Storage StorageConfig `yaml:"storage"`

	// Sync configures scheduler and reconciler timing.
	Sync SyncConfig `yaml:"sync"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Sync    *SyncConfig    `yaml:"sync,omitempty"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for TabSync data.
	Root string `yaml:"root"`

	// State is where the sync bookkeeping file lives (fingerprints,
	// persist counters, throttle guard).
	State string `yaml:"state"`

	// DurableDB is the LevelDB directory backing the durable local tier.
	DurableDB string `yaml:"durable_db"`

	// SyncDB is the LevelDB directory backing the size-constrained
	// replicated tier.
	SyncDB string `yaml:"sync_db"`

	// WorkingFile is the human-editable JSON file mirroring the
	// current document. The daemon watches it and feeds edits into
	// the scheduler.
	WorkingFile string `yaml:"working_file"`

	// LegacyFile is the flat JSON file older installations wrote the
	// group list to. Read once during reconciliation; never written.
	LegacyFile string `yaml:"legacy_file"`
}

// StorageConfig configures the document key, quotas, and compression.
type StorageConfig struct {
	// BaseKey is the logical key the document is stored under; chunk
	// and timestamp keys derive from it. Changing it strands
	// previously written data.
	// Default: tabsync_groups
	BaseKey string `yaml:"base_key"`

	// Compression selects the codec for stored payloads.
	// Values: "zstd", "lz4", "none". Default: zstd
	Compression string `yaml:"compression"`

	// MaxItemBytes is the constrained tier's hard per-item limit in
	// encoded bytes. 0 means unconstrained.
	// Default: 8192
	MaxItemBytes int `yaml:"max_item_bytes"`

	// SafetyMargin is headroom subtracted from MaxItemBytes when
	// budgeting writes.
	// Default: 384
	SafetyMargin int `yaml:"safety_margin"`

	// SessionTTL is how long the session tier keeps entries, as a Go
	// duration string.
	// Default: 12h
	SessionTTL string `yaml:"session_ttl"`
}

// SyncConfig configures scheduler and reconciler timing.
type SyncConfig struct {
	// Debounce is the mutation coalescing window, as a Go duration
	// string.
	// Default: 2s
	Debounce string `yaml:"debounce"`

	// ReconcileThrottle is the minimum gap between full reconciliation
	// passes, as a Go duration string. Enforced across restarts via
	// the persisted guard timestamp.
	// Default: 30s
	ReconcileThrottle string `yaml:"reconcile_throttle"`

	// WatchWorkingFile enables the daemon's file watch on WorkingFile
	// so external edits feed the scheduler.
	// Default: true
	WatchWorkingFile bool `yaml:"watch_working_file"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "tabsync")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:        defaultRoot,
			State:       filepath.Join(defaultRoot, "state"),
			DurableDB:   filepath.Join(defaultRoot, "local.db"),
			SyncDB:      filepath.Join(defaultRoot, "sync.db"),
			WorkingFile: filepath.Join(defaultRoot, "launcher.json"),
			LegacyFile:  filepath.Join(defaultRoot, "groups.json"),
		},
		Storage: StorageConfig{
			BaseKey:      "tabsync_groups",
			Compression:  "zstd",
			MaxItemBytes: 8192,
			SafetyMargin: 384,
			SessionTTL:   "12h",
		},
		Sync: SyncConfig{
			Debounce:          "2s",
			ReconcileThrottle: "30s",
			WatchWorkingFile:  true,
		},
	}
}

// Load loads configuration from TABSYNC_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if TABSYNC_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("TABSYNC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TABSYNC_CONFIG environment variable not set; " +
			"set it to the path of your tabsync.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.DurableDB != "" {
			c.Paths.DurableDB = overrides.Paths.DurableDB
		}
		if overrides.Paths.SyncDB != "" {
			c.Paths.SyncDB = overrides.Paths.SyncDB
		}
		if overrides.Paths.WorkingFile != "" {
			c.Paths.WorkingFile = overrides.Paths.WorkingFile
		}
		if overrides.Paths.LegacyFile != "" {
			c.Paths.LegacyFile = overrides.Paths.LegacyFile
		}
	}

	if overrides.Storage != nil {
		if overrides.Storage.BaseKey != "" {
			c.Storage.BaseKey = overrides.Storage.BaseKey
		}
		if overrides.Storage.Compression != "" {
			c.Storage.Compression = overrides.Storage.Compression
		}
		if overrides.Storage.MaxItemBytes != 0 {
			c.Storage.MaxItemBytes = overrides.Storage.MaxItemBytes
		}
		if overrides.Storage.SafetyMargin != 0 {
			c.Storage.SafetyMargin = overrides.Storage.SafetyMargin
		}
		if overrides.Storage.SessionTTL != "" {
			c.Storage.SessionTTL = overrides.Storage.SessionTTL
		}
	}

	if overrides.Sync != nil {
		if overrides.Sync.Debounce != "" {
			c.Sync.Debounce = overrides.Sync.Debounce
		}
		if overrides.Sync.ReconcileThrottle != "" {
			c.Sync.ReconcileThrottle = overrides.Sync.ReconcileThrottle
		}
		// WatchWorkingFile is a bool, so we always apply it from overrides.
		c.Sync.WatchWorkingFile = overrides.Sync.WatchWorkingFile
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TABSYNC_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TABSYNC_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.DurableDB = expandVars(c.Paths.DurableDB, vars)
	c.Paths.SyncDB = expandVars(c.Paths.SyncDB, vars)
	c.Paths.WorkingFile = expandVars(c.Paths.WorkingFile, vars)
	c.Paths.LegacyFile = expandVars(c.Paths.LegacyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if c.Storage.BaseKey == "" {
		errs = append(errs, fmt.Errorf("storage.base_key is required"))
	}

	compressionValues := []string{"none", "zstd", "lz4"}
	if !contains(compressionValues, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of: %v", compressionValues))
	}

	if c.Storage.MaxItemBytes < 0 {
		errs = append(errs, fmt.Errorf("storage.max_item_bytes must not be negative"))
	}
	if c.Storage.SafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("storage.safety_margin must not be negative"))
	}
	if c.Storage.MaxItemBytes > 0 && c.Storage.SafetyMargin >= c.Storage.MaxItemBytes {
		errs = append(errs, fmt.Errorf("storage.safety_margin (%d) must be smaller than storage.max_item_bytes (%d)",
			c.Storage.SafetyMargin, c.Storage.MaxItemBytes))
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"storage.session_ttl", c.Storage.SessionTTL},
		{"sync.debounce", c.Sync.Debounce},
		{"sync.reconcile_throttle", c.Sync.ReconcileThrottle},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StateFile returns the path of the sync bookkeeping file inside the
// state directory.
func (c *Config) StateFile() string {
	return filepath.Join(c.Paths.State, "sync-state.cbor")
}

// DebounceInterval returns the parsed mutation coalescing window.
func (c *Config) DebounceInterval() time.Duration {
	return parseDuration(c.Sync.Debounce, DefaultDebounce)
}

// ThrottleInterval returns the parsed reconciliation throttle window.
func (c *Config) ThrottleInterval() time.Duration {
	return parseDuration(c.Sync.ReconcileThrottle, DefaultReconcileThrottle)
}

// SessionTTL returns the parsed session tier entry lifetime.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.Storage.SessionTTL, DefaultSessionTTL)
}

// parseDuration parses a config duration string, falling back to a
// default for empty or malformed values. Validate reports malformed
// values; the fallback here keeps accessors total.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// EnsurePaths creates all configured directories if they don't exist.
// Database and file paths get their parent directories; the backends
// create the rest themselves.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		filepath.Dir(c.Paths.DurableDB),
		filepath.Dir(c.Paths.SyncDB),
		filepath.Dir(c.Paths.WorkingFile),
		filepath.Dir(c.Paths.LegacyFile),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
