package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// configFile holds the structure written to config.yaml when init is
// given explicit settings.
type configFile struct {
	Backend   string `yaml:"backend"`
	DataDir   string `yaml:"data_dir,omitempty"`
	DSN       string `yaml:"dsn,omitempty"`
	FlushMode string `yaml:"flush_mode,omitempty"`
}

type initFlags struct {
	backend   string
	dsn       string
	flushMode string
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	var f initFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize larder configuration and storage",
		Long:  "Create the configuration directory and config.yaml when missing, then\nopen the configured backend once so its schema exists.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, flags, f)
		},
	}
	cmd.Flags().StringVar(&f.backend, "backend", "", "backend to write into a new config.yaml")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "postgres connection string to write into a new config.yaml")
	cmd.Flags().StringVar(&f.flushMode, "flush-mode", "", "flush mode to write into a new config.yaml")
	return cmd
}

func runInit(cmd *cobra.Command, flags *rootFlags, f initFlags) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}

	var written bool
	if f.backend != "" || f.dsn != "" || f.flushMode != "" || flags.dataDir != "" {
		written, err = writeConfigIfMissing(configDir, configFile{
			Backend:   firstNonEmpty(f.backend, types.BackendSQLite),
			DataDir:   flags.dataDir,
			DSN:       f.dsn,
			FlushMode: f.flushMode,
		})
	} else {
		written, err = ensureDefaultConfigFile(configDir)
	}
	if err != nil {
		return err
	}

	return withSession(cmd, flags, func(ctx context.Context, s *session) error {
		_, closer, err := s.openStorage(ctx)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		if err := closer(); err != nil {
			return fmt.Errorf("finalize storage: %w", err)
		}

		out := cmd.OutOrStdout()
		if flags.jsonMode {
			return writeJSON(out, map[string]any{
				"config_dir":     s.configDir,
				"config_written": written,
				"backend":        s.cfg.Backend,
				"data_dir":       s.cfg.DataDir,
			})
		}
		fmt.Fprintf(out, "larder initialized (backend %s)\n", s.cfg.Backend)
		fmt.Fprintf(out, "config: %s\n", filepath.Join(s.configDir, paths.ConfigFile))
		if s.cfg.Backend == types.BackendSQLite {
			fmt.Fprintf(out, "data:   %s\n", s.cfg.DataDir)
		}
		return nil
	})
}

// writeConfigIfMissing marshals cfg into config.yaml unless the file
// already exists. It reports whether it wrote the file.
func writeConfigIfMissing(configDir string, cfg configFile) (bool, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	path := filepath.Join(configDir, paths.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(_ context.Context, s *session) error {
				if flags.jsonMode {
					return writeJSON(cmd.OutOrStdout(), s.cfg.Config)
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(s.cfg); err != nil {
					return fmt.Errorf("encode config: %w", err)
				}
				return enc.Close()
			})
		},
	}
}
