// Package larder is the public entry point of the persistence engine. Open
// builds the storage named by a Config and a Factory over it; contexts
// from the factory do the work.
//
//	eng, err := larder.Open(ctx, types.Config{Backend: types.BackendSQLite, DataDir: dir},
//	    larder.WithEntityTypes(memberType, teamType))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	pc := eng.NewContext()
//	defer pc.Close()
package larder

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/larder/internal/memory"
	"github.com/mesh-intelligence/larder/internal/persistence"
	"github.com/mesh-intelligence/larder/internal/postgres"
	"github.com/mesh-intelligence/larder/internal/sqlite"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Version is the larder release.
const Version = "0.1.0"

// Engine types, re-exported so callers outside this module can name them.
type (
	Factory    = persistence.Factory
	Context    = persistence.Context
	UnitOfWork = persistence.UnitOfWork
	State      = persistence.State
	Stats      = persistence.Stats
	Option     = persistence.Option
)

// Unit of work states.
const (
	Inactive   = persistence.Inactive
	Active     = persistence.Active
	Committed  = persistence.Committed
	RolledBack = persistence.RolledBack
)

// Factory options.
var (
	WithEntityTypes = persistence.WithEntityTypes
	WithFlushMode   = persistence.WithFlushMode
	WithLogger      = persistence.WithLogger
	WithMetrics     = persistence.WithMetrics
	NewFactory      = persistence.NewFactory
)

// Engine couples a Factory with the storage it opened.
type Engine struct {
	*persistence.Factory
	closer func() error
}

// Open validates cfg, opens its backend and returns an Engine whose
// factory knows the entity types of cfg plus those given in opts. The
// flush mode of cfg applies unless opts override it.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configured, err := cfg.EntityTypes()
	if err != nil {
		return nil, err
	}

	storage, closer, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	all := append([]Option{
		persistence.WithEntityTypes(configured...),
		persistence.WithFlushMode(cfg.Mode()),
	}, opts...)
	f, err := persistence.NewFactory(storage, all...)
	if err != nil {
		closer()
		return nil, err
	}
	return &Engine{Factory: f, closer: closer}, nil
}

// OpenStorage opens the backend named by cfg. The returned func releases it.
func OpenStorage(ctx context.Context, cfg types.Config) (types.Storage, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case types.BackendMemory:
		return memory.New(), nop, nil
	case types.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case types.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, cfg.Backend)
	}
}

// Close releases the storage. Contexts must not be used afterwards.
func (e *Engine) Close() error {
	return e.closer()
}
