package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/persistence"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// rollback undoes an active unit of work after cause and reports both
// failures when the rollback fails too.
func rollback(uow *persistence.UnitOfWork, cause error) error {
	if !uow.IsActive() {
		return cause
	}
	if err := uow.Rollback(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// usageArgs wraps a cobra argument validator so its failures count as
// user errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Print one record",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				eng, err := s.open(ctx, s.adhocType(args[0], true)...)
				if err != nil {
					return err
				}
				defer eng.Close()

				pc := eng.NewContext()
				defer pc.Close()
				e, err := pc.Find(ctx, args[0], types.ParseID(args[1]))
				if err != nil {
					return err
				}
				return printEntity(cmd.OutOrStdout(), flags.jsonMode, e)
			})
		},
	}
}

func newSetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <type> [id] [field=value...]",
		Short: "Create a record or change its fields",
		Long: `Set creates the record when it does not exist and updates the named
fields when it does. Without an id the identifier strategy of the type
assigns one; unconfigured types get a UUID.

Values: @type:id is a reference, null removes the field, integers and
true/false are typed, anything else (or a quoted string) is text.

Example:
  larder set team t1 name=Platform
  larder set member name=Ada team=@team:t1
  larder set member 3 team=null`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, rest := args[0], args[1:]
			var rawID string
			if len(rest) > 0 && !strings.Contains(rest[0], "=") {
				rawID, rest = rest[0], rest[1:]
			}
			fields, err := parseAssignments(rest)
			if err != nil {
				return err
			}

			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				eng, err := s.open(ctx, s.adhocType(typeName, rawID != "")...)
				if err != nil {
					return err
				}
				defer eng.Close()

				pc := eng.NewContext()
				defer pc.Close()
				uow := pc.Transaction()
				if err := uow.Begin(ctx); err != nil {
					return err
				}

				rec, err := upsert(ctx, pc, typeName, rawID, fields)
				if err != nil {
					return rollback(uow, err)
				}
				if err := uow.Commit(ctx); err != nil {
					return err
				}
				s.logger.Info("record saved", "key", types.EntityKey{Type: typeName, ID: rec.ID}, "uow", uow.ID())
				return printEntity(cmd.OutOrStdout(), flags.jsonMode, rec)
			})
		},
	}
}

// finder is the part of a persistence context upsert needs.
type finder interface {
	Find(ctx context.Context, entityType string, id any) (types.Entity, error)
	Persist(ctx context.Context, e types.Entity) error
}

// upsert loads the record with rawID and applies fields to it, or
// persists a new record when there is no such row.
func upsert(ctx context.Context, pc finder, typeName, rawID string, fields types.Fields) (*types.Record, error) {
	if rawID != "" {
		found, err := pc.Find(ctx, typeName, types.ParseID(rawID))
		switch {
		case err == nil:
			rec, ok := found.(*types.Record)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not a generic record", types.ErrInvalidEntity, typeName)
			}
			applyFields(rec, fields)
			return rec, nil
		case !errors.Is(err, types.ErrNotFound):
			return nil, err
		}
	}

	rec := types.NewRecord(typeName)
	if rawID != "" {
		rec.ID = types.ParseID(rawID)
	}
	applyFields(rec, fields)
	if err := pc.Persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete one record",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				eng, err := s.open(ctx, s.adhocType(args[0], true)...)
				if err != nil {
					return err
				}
				defer eng.Close()

				pc := eng.NewContext()
				defer pc.Close()
				uow := pc.Transaction()
				if err := uow.Begin(ctx); err != nil {
					return err
				}
				e, err := pc.Find(ctx, args[0], types.ParseID(args[1]))
				if err == nil {
					err = pc.Remove(ctx, e)
				}
				if err != nil {
					return rollback(uow, err)
				}
				if err := uow.Commit(ctx); err != nil {
					return err
				}

				key := types.EntityKey{Type: e.EntityType(), ID: e.EntityID()}
				if flags.jsonMode {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": key.String()})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				return err
			})
		},
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type> [field=value...]",
		Short: "List records with optional filter",
		Long: `List prints the records of one type whose fields equal every given
field=value pair. Values use the same syntax as set. No filter lists
every record of the type.

Example:
  larder list member
  larder list member team=@team:t1`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				eng, err := s.open(ctx, s.adhocType(args[0], true)...)
				if err != nil {
					return err
				}
				defer eng.Close()

				pc := eng.NewContext()
				defer pc.Close()
				es, err := pc.Query(ctx, args[0], filter)
				if err != nil {
					return err
				}
				return printEntities(cmd.OutOrStdout(), flags.jsonMode, es)
			})
		},
	}
}
