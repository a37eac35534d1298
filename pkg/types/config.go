package types

import (
	"errors"
	"fmt"
	"sort"
)

// Config holds backend selection, flush behaviour and per-type identifier
// strategies for a persistence context factory.
type Config struct {
	Backend   string                  `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir   string                  `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	DSN       string                  `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
	FlushMode string                  `json:"flush_mode,omitempty" yaml:"flush_mode,omitempty" mapstructure:"flush_mode"`
	Entities  map[string]EntityConfig `json:"entities,omitempty" yaml:"entities,omitempty" mapstructure:"entities"`
}

// EntityConfig selects the identifier strategy of one entity type.
type EntityConfig struct {
	Strategy  string `json:"strategy" yaml:"strategy" mapstructure:"strategy"`
	BlockSize int    `json:"block_size,omitempty" yaml:"block_size,omitempty" mapstructure:"block_size"`
	Sequence  string `json:"sequence,omitempty" yaml:"sequence,omitempty" mapstructure:"sequence"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// FlushMode decides when pending changes reach storage.
type FlushMode string

// Flush modes. FlushAuto also flushes before a query so query results see
// pending changes; FlushCommit flushes only on commit or explicit Flush.
const (
	FlushAuto   FlushMode = "auto"
	FlushCommit FlushMode = "commit"
)

// Config validation errors.
var (
	ErrBackendEmpty     = errors.New("backend must not be empty")
	ErrBackendUnknown   = errors.New("unknown backend")
	ErrDSNEmpty         = errors.New("dsn must not be empty for the postgres backend")
	ErrFlushModeUnknown = errors.New("unknown flush mode")
	ErrStrategyEmpty    = errors.New("identifier strategy must not be empty")
	ErrStrategyUnknown  = errors.New("unknown identifier strategy")
	ErrBlockSizeInvalid = errors.New("sequence block size must be at least 1")
)

var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMemory:   true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package, wrapped with the offending entity type where
// one is involved.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNEmpty
	}
	if _, err := ParseFlushMode(c.FlushMode); err != nil {
		return err
	}
	for name, ec := range c.Entities {
		if _, err := ParseStrategy(ec.Strategy, ec.BlockSize, ec.Sequence); err != nil {
			return fmt.Errorf("entity %q: %w", name, err)
		}
	}
	return nil
}

// Mode returns the configured flush mode, defaulting to FlushAuto.
func (c Config) Mode() FlushMode {
	m, err := ParseFlushMode(c.FlushMode)
	if err != nil {
		return FlushAuto
	}
	return m
}

// ParseFlushMode parses a flush mode name. Empty means FlushAuto.
func ParseFlushMode(s string) (FlushMode, error) {
	switch FlushMode(s) {
	case "", FlushAuto:
		return FlushAuto, nil
	case FlushCommit:
		return FlushCommit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrFlushModeUnknown, s)
	}
}

// EntityTypes returns Record-backed entity types for every configured
// entity, sorted by name.
func (c Config) EntityTypes() ([]EntityType, error) {
	names := make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]EntityType, 0, len(names))
	for _, name := range names {
		ec := c.Entities[name]
		strategy, err := ParseStrategy(ec.Strategy, ec.BlockSize, ec.Sequence)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		out = append(out, EntityType{
			Name:     name,
			Strategy: strategy,
			New:      func() Entity { return NewRecord(name) },
		})
	}
	return out, nil
}
