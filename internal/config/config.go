// Package config handles the .stepwise directory and its config.yaml.
//
// Every coordination root gets a .stepwise/ folder holding the store and
// an optional config file. Values resolve in this order: built-in
// defaults, .stepwise/config.yaml, STEPWISE_* environment variables, then
// whatever the caller applies on top (command-line flags).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the per-root directory.
	Dir = ".stepwise"

	// FileName is the config file inside Dir.
	FileName = "config.yaml"

	DefaultDatabase    = Dir + "/stepwise.db"
	DefaultLease       = 30 * time.Minute
	DefaultBusyTimeout = 5 * time.Second
	DefaultMaxReaders  = 4
)

// Environment overrides.
const (
	EnvDatabase = "STEPWISE_DB"
	EnvOwner    = "STEPWISE_OWNER"
	EnvLease    = "STEPWISE_LEASE"
)

const defaultConfigYAML = `# stepwise configuration
#
# database is resolved relative to the coordination root. Keep it out of
# version control; deleting it only loses runtime bookkeeping.
database: .stepwise/stepwise.db

# How long a claim is held without a heartbeat. Workers should heartbeat
# at about half this interval.
lease: 30m

# How long a writer waits for the store lock before failing with BUSY.
busy_timeout: 5s

# Concurrent read connections per process (ready, show, plans).
max_readers: 4

# Worker identity used when --owner is not given. Empty means a fresh
# worker-<uuid> is generated per claim.
owner: ""
`

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30m\"", node.Line)
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Config models .stepwise/config.yaml.
type Config struct {
	Database    string   `yaml:"database"`
	Lease       Duration `yaml:"lease"`
	BusyTimeout Duration `yaml:"busy_timeout"`
	Owner       string   `yaml:"owner"`
	MaxReaders  int      `yaml:"max_readers"`

	// Root is the coordination root the config was loaded for.
	Root string `yaml:"-"`
}

// Default returns the built-in configuration for root.
func Default(root string) Config {
	return Config{
		Database:    DefaultDatabase,
		Lease:       Duration(DefaultLease),
		BusyTimeout: Duration(DefaultBusyTimeout),
		MaxReaders:  DefaultMaxReaders,
		Root:        root,
	}
}

// Path returns the config file location for root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads root's config file, if any, and applies environment
// overrides. A missing file is not an error.
func Load(root string) (Config, error) {
	cfg := Default(root)

	path := Path(root)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && strings.TrimSpace(v) != "" {
		c.Database = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOwner); ok {
		c.Owner = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLease); ok && strings.TrimSpace(v) != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvLease, err)
		}
		c.Lease = Duration(d)
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("database is required")
	}
	if c.Lease <= 0 {
		return fmt.Errorf("lease must be positive")
	}
	if c.BusyTimeout <= 0 {
		return fmt.Errorf("busy_timeout must be positive")
	}
	if c.MaxReaders <= 0 {
		return fmt.Errorf("max_readers must be positive")
	}
	return nil
}

// DatabasePath resolves the store path against the root.
func (c Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.Root, filepath.FromSlash(c.Database))
}

// LeaseDuration returns the configured lease.
func (c Config) LeaseDuration() time.Duration { return time.Duration(c.Lease) }

// BusyTimeoutDuration returns the configured lock wait.
func (c Config) BusyTimeoutDuration() time.Duration { return time.Duration(c.BusyTimeout) }

// EnsureDir creates root/.stepwise and the directory holding the store.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Join(c.Root, Dir), filepath.Dir(c.DatabasePath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteDefault writes the commented default config file for root. An
// existing file is left alone unless overwrite is set. It reports whether
// a file was written.
func WriteDefault(root string, overwrite bool) (string, bool, error) {
	path := Path(root)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return path, false, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return path, false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, true, nil
}
