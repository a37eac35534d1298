package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mesh-intelligence/larder/internal/metrics"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Factory errors.
var (
	ErrNilStorage         = errors.New("storage must not be nil")
	ErrEntityTypeInvalid  = errors.New("entity type needs a name, a strategy and a constructor")
	ErrEntityTypeConflict = errors.New("entity type registered twice")
)

// Factory owns the storage and entity-type registry shared by the
// contexts it creates. It is immutable after NewFactory and safe for
// concurrent use.
type Factory struct {
	store    types.Storage
	entities map[string]types.EntityType
	mode     types.FlushMode
	logger   *slog.Logger
	metrics  *metrics.Recorder

	pending []types.EntityType
}

// Option configures a Factory.
type Option func(*Factory)

// WithEntityTypes registers entity types and their identifier strategies.
func WithEntityTypes(ets ...types.EntityType) Option {
	return func(f *Factory) { f.pending = append(f.pending, ets...) }
}

// WithFlushMode sets the flush mode of created contexts. Default FlushAuto.
func WithFlushMode(m types.FlushMode) Option {
	return func(f *Factory) { f.mode = m }
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithMetrics sets the metrics recorder. Default records nothing.
func WithMetrics(r *metrics.Recorder) Option {
	return func(f *Factory) { f.metrics = r }
}

// NewFactory validates the options and returns a Factory over store.
func NewFactory(store types.Storage, opts ...Option) (*Factory, error) {
	if store == nil {
		return nil, ErrNilStorage
	}
	f := &Factory{
		store:    store,
		entities: make(map[string]types.EntityType),
		mode:     types.FlushAuto,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	mode, err := types.ParseFlushMode(string(f.mode))
	if err != nil {
		return nil, err
	}
	f.mode = mode

	for _, et := range f.pending {
		if et.Name == "" || et.Strategy == nil || et.New == nil {
			return nil, fmt.Errorf("%w: %q", ErrEntityTypeInvalid, et.Name)
		}
		if s, ok := et.Strategy.(types.SequenceBlock); ok {
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("entity type %q: %w", et.Name, err)
			}
		}
		if _, dup := f.entities[et.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrEntityTypeConflict, et.Name)
		}
		f.entities[et.Name] = et
	}
	f.pending = nil
	return f, nil
}

// NewContext returns an empty persistence context bound to the factory.
func (f *Factory) NewContext() *Context {
	c := &Context{
		factory:  f,
		identity: newIdentityMap(),
		queue:    newActionQueue(),
		blocks:   newBlockAllocator(),
		removed:  make(map[types.EntityKey]*managed),
		log:      f.logger,
	}
	c.uow = &UnitOfWork{pc: c}
	return c
}

// EntityTypes returns the registered entity type names, sorted.
func (f *Factory) EntityTypes() []string {
	names := make([]string, 0, len(f.entities))
	for name := range f.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushMode returns the flush mode given to created contexts.
func (f *Factory) FlushMode() types.FlushMode {
	return f.mode
}

// Storage returns the storage the factory flushes into.
func (f *Factory) Storage() types.Storage {
	return f.store
}

func (f *Factory) entityType(name string) (types.EntityType, error) {
	et, ok := f.entities[name]
	if !ok {
		return types.EntityType{}, fmt.Errorf("%w: %q", types.ErrUnknownEntityType, name)
	}
	return et, nil
}
