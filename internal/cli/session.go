package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/logging"
	"github.com/mesh-intelligence/larder/internal/metrics"
	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/larder"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// session is the per-command environment: resolved configuration, the
// logger, and the metrics registry written out when the command ends.
type session struct {
	flags     *rootFlags
	configDir string
	cfg       settings
	logger    *slog.Logger
	logCloser io.Closer

	registry    *prometheus.Registry
	recorder    *metrics.Recorder
	metricsFile string
}

func newSession(cmd *cobra.Command, flags *rootFlags) (*session, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	if cfg.Backend == types.BackendSQLite {
		dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = dataDir
	}

	logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, usageError{fmt.Errorf("configure logging: %w", err)}
	}

	s := &session{
		flags:       flags,
		configDir:   configDir,
		cfg:         cfg,
		logger:      logger,
		logCloser:   closer,
		metricsFile: flags.metricsFile,
	}
	if s.metricsFile == "" {
		s.metricsFile = cfg.MetricsFile
	}
	if s.metricsFile != "" {
		s.registry = prometheus.NewRegistry()
		if s.recorder, err = metrics.New(s.registry); err != nil {
			closer.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	logger.Debug("session ready",
		"config_dir", configDir,
		"backend", cfg.Backend,
		"data_dir", cfg.DataDir,
		"flush_mode", cfg.Mode())
	return s, nil
}

// open starts the engine. Entity types named on the command line but
// absent from config.yaml are registered as generic records.
func (s *session) open(ctx context.Context, adhoc ...types.EntityType) (*larder.Engine, error) {
	opts := []larder.Option{
		larder.WithLogger(s.logger),
		larder.WithMetrics(s.recorder),
	}
	if len(adhoc) > 0 {
		opts = append(opts, larder.WithEntityTypes(adhoc...))
	}
	return larder.Open(ctx, s.cfg.Config, opts...)
}

// openStorage opens the configured backend without an engine on top.
func (s *session) openStorage(ctx context.Context) (types.Storage, func() error, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return larder.OpenStorage(ctx, s.cfg.Config)
}

// adhocType returns the registration for an unconfigured entity type: a
// caller-assigned id when the command names one, a generated UUID
// otherwise. Configured types yield nothing.
func (s *session) adhocType(name string, withID bool) []types.EntityType {
	if _, ok := s.cfg.Entities[name]; ok {
		return nil
	}
	var strategy types.IDStrategy = types.GeneratedUUID{}
	if withID {
		strategy = types.PreAssigned{}
	}
	return []types.EntityType{{
		Name:     name,
		Strategy: strategy,
		New:      func() types.Entity { return types.NewRecord(name) },
	}}
}

// close writes the metrics file, if any, and releases the log file.
func (s *session) close() error {
	var err error
	if s.registry != nil {
		if werr := prometheus.WriteToTextfile(s.metricsFile, s.registry); werr != nil {
			err = fmt.Errorf("write metrics: %w", werr)
		}
	}
	if cerr := s.logCloser.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close log: %w", cerr)
	}
	return err
}

// withSession runs fn with a fresh session and closes it afterwards.
func withSession(cmd *cobra.Command, flags *rootFlags, fn func(context.Context, *session) error) error {
	s, err := newSession(cmd, flags)
	if err != nil {
		return err
	}
	err = fn(cmd.Context(), s)
	if cerr := s.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
