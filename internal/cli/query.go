package cli

import (
	"fmt"

	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/search"
	"github.com/spf13/cobra"
)

func newPreviewCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "preview <table>",
		Short: "Show the first rows of a table and its exact row count",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Limits.PreviewRows
			}
			return a.withEngine(cmd, func(e *engine.Engine) error {
				p, err := e.Preview(cmd.Context(), args[0], schemaArg(cmd), limit)
				if err != nil {
					return err
				}
				g := resultGrid(&p.Result)
				g.title = p.Schema + "." + p.Table
				g.footer = fmt.Sprintf("(%d of %d rows)", p.RowCount, p.TotalRows)
				return a.renderer(cmd).render(p, g)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "rows to show (default limits.preview_rows)")
	return cmd
}

func newQueryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <sql> [params...]",
		Short: "Run a SQL statement with positional parameters",
		Long: `Run one SQL statement. Parameters bind to $1, $2, ... in order and are
sent as text; the server converts them to the parameter types.

Read statements return at most --limit rows; the result is marked truncated
when more exist. Other statements commit on their own and report
the number of rows affected.`,
		Example: `  dbops query 'SELECT * FROM orders WHERE customer_id = $1' 42
  dbops query 'UPDATE orders SET status = $1 WHERE id = $2' shipped 7`,
		Args: positional(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]any, len(args)-1)
			for i, p := range args[1:] {
				params[i] = p
			}
			return a.withEngine(cmd, func(e *engine.Engine) error {
				res, err := e.Query(cmd.Context(), args[0], params, limit)
				if err != nil {
					return err
				}
				return a.renderer(cmd).render(res, resultGrid(res))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum rows returned (default limits.query_rows)")
	return cmd
}

// resultGrid renders a query result; statements without a result set
// report the rows they affected instead.
func resultGrid(res *query.Result) grid {
	if len(res.Columns) == 0 {
		return grid{
			header: []string{"command", "rows affected"},
			rows:   [][]string{{res.Command, fmt.Sprint(res.RowsAffected)}},
		}
	}
	g := grid{header: res.Columns}
	for _, row := range res.Rows {
		g.add(row...)
	}
	g.footer = fmt.Sprintf("(%d rows)", res.RowCount)
	if res.Truncated {
		g.footer = fmt.Sprintf("(%d rows, truncated)", res.RowCount)
	}
	return g
}

func newSearchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find a term in every text column, case-insensitively",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *engine.Engine) error {
				hits, err := e.Search(cmd.Context(), args[0], schemaArg(cmd))
				if err != nil {
					return err
				}
				all, err := hits.Collect()
				if err != nil {
					return err
				}
				return a.renderer(cmd).render(all, hitsGrid(all))
			})
		},
	}
	cmd.Flags().Int("per-table", 0, "maximum hits per table, 0 for no cap (default limits.search_per_table)")
	return cmd
}

func hitsGrid(hits []search.Hit) grid {
	g := grid{header: []string{"schema", "table", "column", "row", "snippet"}}
	for _, h := range hits {
		g.add(h.Schema, h.Table, h.Column, h.RowID, h.Snippet)
	}
	return g
}
