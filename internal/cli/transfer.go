package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/jsonl"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every stored row as JSON lines",
		Long:  "Export writes one JSON object per stored row to file, replacing it\natomically, or to standard output when no file is given.",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				storage, closer, err := s.openStorage(ctx)
				if err != nil {
					return err
				}
				defer closer()

				rows, err := jsonl.Export(ctx, storage)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if len(args) == 0 {
					return jsonl.Write(cmd.OutOrStdout(), rows)
				}
				if err := jsonl.WriteFile(args[0], rows); err != nil {
					return err
				}
				s.logger.Info("exported rows", "count", len(rows), "file", args[0])
				if flags.jsonMode {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"exported": len(rows), "file": args[0]})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", len(rows), args[0])
				return err
			})
		},
	}
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Insert the rows of a JSON lines file",
		Long:  "Import inserts every row of file in one transaction. Malformed lines\nare skipped and counted; a row whose key already exists aborts the import.",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, skipped, err := jsonl.ReadFile(args[0])
			if err != nil {
				return usageError{err}
			}
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				storage, closer, err := s.openStorage(ctx)
				if err != nil {
					return err
				}
				defer closer()

				if err := jsonl.Import(ctx, storage, rows); err != nil {
					return err
				}
				if skipped > 0 {
					s.logger.Warn("skipped malformed lines", "count", skipped, "file", args[0])
				}
				if flags.jsonMode {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"imported": len(rows), "skipped": skipped})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows (%d skipped)\n", len(rows), skipped)
				return err
			})
		},
	}
}
