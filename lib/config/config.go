// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for ARX tools.
//
// Configuration is loaded from a single file specified by:
//   - ARX_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides. All
// settings have working defaults, so running without a config file is
// also fine.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/arx-format/arx/lib/chunk"
	"github.com/arx-format/arx/lib/codec"
	"github.com/arx-format/arx/lib/policy"
)

// Config is the master configuration for ARX tools.
type Config struct {
	// Tenant selects the key-derivation namespace. Archives created
	// under different tenants use unrelated key hierarchies even when
	// they share a root key.
	Tenant string `yaml:"tenant"`

	// KeyFile is the path to the age-sealed root key file.
	KeyFile string `yaml:"key-file"`

	// Chunker configures content-defined chunking.
	Chunker ChunkerConfig `yaml:"chunker"`

	// Codec configures compression.
	Codec CodecConfig `yaml:"codec"`

	// Writer configures archive write behavior.
	Writer WriterConfig `yaml:"writer"`

	// Policy caps archive contents. Zero values mean unlimited.
	Policy policy.Policy `yaml:"policy"`
}

// ChunkerConfig configures the content-defined chunker.
type ChunkerConfig struct {
	// MinSize is the smallest chunk the boundary search may emit.
	// Default: 64 KiB.
	MinSize int `yaml:"min-size"`

	// TargetSize is the expected average chunk size. Must be a power
	// of two. Default: 256 KiB.
	TargetSize int `yaml:"target-size"`

	// MaxSize force-cuts a chunk that found no natural boundary.
	// Default: 1 MiB.
	MaxSize int `yaml:"max-size"`
}

// CodecConfig configures compression.
type CodecConfig struct {
	// Primary is the codec attempted first: "store", "zstd", or
	// "lz4". Default: zstd.
	Primary string `yaml:"primary"`

	// MinGain is the fraction a chunk must shrink by for the
	// compressed form to be kept; below it the chunk is stored raw.
	// Default: 0.05.
	MinGain float64 `yaml:"min-gain"`
}

// WriterConfig configures archive write behavior.
type WriterConfig struct {
	// SegmentTarget is the data segment size the writer aims for
	// before sealing and starting a new segment. Default: 4 MiB.
	SegmentTarget int `yaml:"segment-target"`

	// Workers is the chunk sealing concurrency. Zero means one worker
	// per CPU.
	Workers int `yaml:"workers"`

	// Deterministic makes packing reproducible: stable archive
	// identity, zeroed timestamps, sorted input ordering. Two packs of
	// the same tree under the same key yield byte-identical archives.
	Deterministic bool `yaml:"deterministic"`
}

// Default returns the default configuration. These defaults are a
// complete working setup; a config file only needs the fields it
// changes.
func Default() *Config {
	return &Config{
		Tenant:  "default",
		KeyFile: "${HOME}/.config/arx/root.key",
		Chunker: ChunkerConfig{
			MinSize:    chunk.DefaultMinSize,
			TargetSize: chunk.DefaultTargetSize,
			MaxSize:    chunk.DefaultMaxSize,
		},
		Codec: CodecConfig{
			Primary: "zstd",
			MinGain: codec.DefaultMinGain,
		},
		Writer: WriterConfig{
			SegmentTarget: 4 << 20,
		},
	}
}

// Load loads configuration from the ARX_CONFIG environment variable,
// or returns the defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("ARX_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ChunkParams converts the chunker section to chunk.Params.
func (c *Config) ChunkParams() chunk.Params {
	return chunk.Params{
		MinSize:    c.Chunker.MinSize,
		TargetSize: c.Chunker.TargetSize,
		MaxSize:    c.Chunker.MaxSize,
	}
}

// PrimaryCodec resolves the configured codec name to its ID.
func (c *Config) PrimaryCodec() (codec.ID, error) {
	return codec.Parse(c.Codec.Primary)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.KeyFile = expandVars(c.KeyFile, vars)
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

	if c.Tenant == "" {
		errs = append(errs, fmt.Errorf("tenant is required"))
	}

	if err := c.ChunkParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunker: %w", err))
	}

	if _, err := codec.Parse(c.Codec.Primary); err != nil {
		errs = append(errs, fmt.Errorf("codec: %w", err))
	}
	if c.Codec.MinGain < 0 || c.Codec.MinGain >= 1 {
		errs = append(errs, fmt.Errorf("codec.min-gain must be in [0, 1), got %v", c.Codec.MinGain))
	}

	if c.Writer.SegmentTarget <= 0 {
		errs = append(errs, fmt.Errorf("writer.segment-target must be positive, got %d", c.Writer.SegmentTarget))
	}
	if c.Writer.Workers < 0 {
		errs = append(errs, fmt.Errorf("writer.workers must not be negative, got %d", c.Writer.Workers))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
