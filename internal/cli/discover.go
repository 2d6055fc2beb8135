package cli

import (
	"fmt"
	"strings"

	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/schema"
	"github.com/spf13/cobra"
)

// schemaArg returns --schema when given explicitly. An empty result lets
// each operation apply its own default.
func schemaArg(cmd *cobra.Command) string {
	if f := cmd.Flag("schema"); f != nil && f.Changed {
		return f.Value.String()
	}
	return ""
}

func newIntrospectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "introspect",
		Short: "Describe every table of one schema or of the whole database",
		Example: `  # Whole database as JSON
  dbops introspect -o json

  # One schema
  dbops introspect --schema sales`,
		Args: positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				rep, err := e.Introspect(cmd.Context(), schemaArg(cmd))
				if err != nil {
					return err
				}
				g := grid{
					title:  fmt.Sprintf("%s (%s)", rep.Database, rep.ServerVersion),
					header: []string{"schema", "table", "columns", "primary key", "estimated rows"},
				}
				for _, s := range rep.Schemas {
					for _, t := range s.Tables {
						g.add(s.Name, t.Name, len(t.Columns), strings.Join(t.PrimaryKey, ", "), t.EstimatedRows)
					}
				}
				return a.renderer(cmd).render(rep, g)
			})
		},
	}
}

func newSchemasCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List user schemas",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				schemas, err := e.Schemas(cmd.Context())
				if err != nil {
					return err
				}
				g := grid{header: []string{"schema"}}
				for _, s := range schemas {
					g.add(s)
				}
				return a.renderer(cmd).render(schemas, g)
			})
		},
	}
}

func newTablesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a schema, largest first",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				tables, err := e.Tables(cmd.Context(), schemaArg(cmd))
				if err != nil {
					return err
				}
				g := grid{header: []string{"schema", "table", "estimated rows", "total bytes"}}
				for _, t := range tables {
					g.add(t.Schema, t.Name, t.EstimatedRows, t.TotalBytes)
				}
				return a.renderer(cmd).render(tables, g)
			})
		},
	}
}

func newDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show columns, keys and indexes of a table",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				t, err := e.Describe(cmd.Context(), args[0], schemaArg(cmd))
				if err != nil {
					return err
				}
				return a.renderer(cmd).render(t, describeGrids(t)...)
			})
		},
	}
}

func describeGrids(t *schema.Table) []grid {
	cols := grid{
		title:  t.Schema + "." + t.Name,
		header: []string{"#", "column", "type", "data type", "nullable", "default"},
	}
	for _, c := range t.Columns {
		var def any
		if c.Default != nil {
			def = *c.Default
		}
		cols.add(c.Position, c.Name, c.Type.String(), c.DataType, c.Nullable, def)
	}
	if len(t.PrimaryKey) > 0 {
		cols.footer = "primary key: " + strings.Join(t.PrimaryKey, ", ")
	}
	grids := []grid{cols}

	if len(t.Indexes) > 0 {
		idx := grid{header: []string{"index", "definition"}}
		for _, i := range t.Indexes {
			idx.add(i.Name, i.Definition)
		}
		grids = append(grids, idx)
	}
	if len(t.ForeignKeys) > 0 {
		fks := grid{header: []string{"foreign key", "columns", "references"}}
		for _, fk := range t.ForeignKeys {
			ref := fmt.Sprintf("%s.%s (%s)", fk.RefSchema, fk.RefTable, strings.Join(fk.RefColumns, ", "))
			fks.add(fk.Name, strings.Join(fk.Columns, ", "), ref)
		}
		grids = append(grids, fks)
	}
	return grids
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database size, largest tables and active connections",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				snap, err := e.Stats(cmd.Context())
				if err != nil {
					return err
				}
				sizes := grid{
					title:  fmt.Sprintf("%s (%s)", snap.Database, snap.DatabaseSize.Pretty),
					header: []string{"schema", "table", "total", "data", "estimated rows"},
				}
				for _, t := range snap.TableSizes {
					sizes.add(t.Schema, t.Table, t.Total.Pretty, t.Data.Pretty, t.EstimatedRows)
				}
				conns := grid{header: []string{"pid", "user", "application", "state", "query start", "query"}}
				for _, c := range snap.ActiveConnections {
					var started any
					if c.QueryStart != nil {
						started = *c.QueryStart
					}
					conns.add(c.PID, c.User, c.Application, c.State, started, c.QueryPreview)
				}
				return a.renderer(cmd).render(snap, sizes, conns)
			})
		},
	}
}
