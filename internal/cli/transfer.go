package cli

import (
	"errors"
	"fmt"

	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/transfer"
	"github.com/spf13/cobra"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		sqlText string
		params  []string
	)
	cmd := &cobra.Command{
		Use:   "export (<table> | --sql <query>) [dest]",
		Short: "Write a table or query result as CSV",
		Long: `Write every row of a table, or of a read query, as CSV with a header row.

dest is a local path, s3://bucket/key or "-" for standard output (the
default). Files and objects only appear once the export has succeeded.`,
		Example: `  dbops export orders orders.csv
  dbops export --sql 'SELECT id, total FROM orders WHERE total > $1' --param 100 big.csv
  dbops export sales.orders s3://exports/orders.csv`,
		Args: func(cmd *cobra.Command, args []string) error {
			if sqlText != "" {
				return positional(cobra.MaximumNArgs(1))(cmd, args)
			}
			return positional(cobra.RangeArgs(1, 2))(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			src := transfer.Source{Schema: schemaArg(cmd)}
			if sqlText != "" {
				src.SQL = sqlText
				for _, p := range params {
					src.Params = append(src.Params, p)
				}
			} else {
				src.Table, args = args[0], args[1:]
			}
			dest := "-"
			if len(args) > 0 {
				dest = args[0]
			}

			return a.withStore(cmd, []string{dest}, func(e *engine.Engine) error {
				if dest == "-" {
					_, err := e.ExportTo(cmd.Context(), src, cmd.OutOrStdout())
					return err
				}
				res, err := e.Export(cmd.Context(), src, dest)
				if err != nil {
					return err
				}
				g := grid{header: []string{"location", "rows"}}
				g.add(res.Location, res.Rows)
				if res.URL != "" {
					g.footer = "download: " + res.URL
				}
				return a.renderer(cmd).render(res, g)
			})
		},
	}
	cmd.Flags().StringVar(&sqlText, "sql", "", "export the result of this read query instead of a table")
	cmd.Flags().StringArrayVar(&params, "param", nil, "positional parameter for --sql (repeatable)")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <source> <table>",
		Short: "Load a CSV file into a table, creating it when missing",
		Long: `Load a CSV file with a header row into a table.

source is a local path, s3://bucket/key or "-" for standard input. A missing
table is created with column types inferred from the data; an existing table
receives the CSV columns by name. Rows are inserted in batches, each in its
own transaction: a failing batch is rolled back and reported while the
remaining batches continue.`,
		Example: `  dbops import people.csv people
  dbops import s3://landing/orders.csv sales.orders
  dbops import people.csv people --dry-run`,
		Args: positional(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, table := args[0], args[1]
			return a.withStore(cmd, []string{source}, func(e *engine.Engine) error {
				if dryRun {
					plan, err := e.Plan(cmd.Context(), source, table, schemaArg(cmd))
					if err != nil {
						return err
					}
					g := grid{
						title:  fmt.Sprintf("%s %s.%s", plan.Mode, plan.Schema, plan.Table),
						header: []string{"column", "type"},
					}
					for _, c := range plan.Columns {
						g.add(c.Name, c.Type.String())
					}
					return a.renderer(cmd).render(plan, g)
				}

				rep, err := e.Import(cmd.Context(), source, table, schemaArg(cmd))
				if rep == nil {
					return err
				}
				// A stopped import still committed its earlier batches.
				if rerr := a.renderer(cmd).render(rep, reportGrids(rep)...); rerr != nil {
					return errors.Join(err, rerr)
				}
				if err != nil {
					return err
				}
				return rep.Err()
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the inferred plan without writing")
	return cmd
}

func reportGrids(rep *transfer.Report) []grid {
	summary := grid{header: []string{"table", "mode", "created", "inserted", "failed", "batches"}}
	summary.add(rep.Schema+"."+rep.Table, string(rep.Mode), rep.Created, rep.RowsInserted, rep.RowsFailed, rep.Batches)
	if len(rep.Failures) == 0 {
		return []grid{summary}
	}

	failures := grid{header: []string{"batch", "rows", "kind", "message"}}
	for _, f := range rep.Failures {
		failures.add(f.Batch, fmt.Sprintf("%d-%d", f.FirstRow, f.LastRow), f.Kind, f.Message)
	}
	return []grid{summary, failures}
}
