// Package democonfig loads the JSON configuration the bfalloc command-line
// tools read their heap parameters from, the way cmd/orizon-config's
// ProjectConfig loads project settings: a flat JSON struct plus explicit
// defaulting, with the schema version itself validated against a semver
// constraint so an old or too-new config file fails fast instead of
// silently misbehaving.
package democonfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// SupportedSchemaConstraint is the range of config schema_version values
// this build understands.
const SupportedSchemaConstraint = ">= 1.0.0, < 2.0.0"

// Config is the on-disk shape of a bfalloc configuration file.
type Config struct {
	SchemaVersion     string  `json:"schema_version"`
	HeapCeilingBytes  uintptr `json:"heap_ceiling_bytes"`
	KeepSegmentsCount int     `json:"keep_segments_count"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		SchemaVersion:     "1.0.0",
		HeapCeilingBytes:  256 * 1024 * 1024,
		KeepSegmentsCount: 0,
	}
}

// Load reads and validates a configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config's schema_version against
// SupportedSchemaConstraint and rejects a zero heap ceiling.
func (c *Config) Validate() error {
	constraint, err := semver.NewConstraint(SupportedSchemaConstraint)
	if err != nil {
		return fmt.Errorf("internal: invalid schema constraint: %w", err)
	}

	version, err := semver.NewVersion(c.SchemaVersion)
	if err != nil {
		return fmt.Errorf("config schema_version %q is not a valid semver: %w", c.SchemaVersion, err)
	}

	if !constraint.Check(version) {
		return fmt.Errorf("config schema_version %q does not satisfy %q", c.SchemaVersion, SupportedSchemaConstraint)
	}

	if c.HeapCeilingBytes == 0 {
		return fmt.Errorf("heap_ceiling_bytes must be non-zero")
	}

	return nil
}
