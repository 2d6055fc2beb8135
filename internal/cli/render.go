package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/transfer"
	"go.yaml.in/yaml/v3"
)

// grid is the tabular form of a value, used by the table and csv formats.
type grid struct {
	title  string
	header []string
	rows   [][]string
	// footer is printed under the table; csv output omits it.
	footer string
}

func (g *grid) add(vals ...any) {
	row := make([]string, len(vals))
	for i, v := range vals {
		row[i] = transfer.FormatValue(v)
	}
	g.rows = append(g.rows, row)
}

type renderer struct {
	w      io.Writer
	format string
}

func newRenderer(w io.Writer, format string) *renderer {
	return &renderer{w: w, format: format}
}

// render writes v as json or yaml, or grids as table or csv. csv output
// only carries the first grid.
func (r *renderer) render(v any, grids ...grid) error {
	var err error
	switch r.format {
	case "json":
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		err = enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err = enc.Encode(v); err == nil {
			err = enc.Close()
		}
	case "csv":
		if len(grids) > 0 {
			err = writeCSV(r.w, grids[0])
		}
	default:
		for i, g := range grids {
			if i > 0 {
				_, _ = fmt.Fprintln(r.w)
			}
			writeTable(r.w, g)
		}
	}
	if err != nil {
		return errs.Wrap(errs.ErrKindIO, "failed to write output", err)
	}
	return nil
}

func writeTable(w io.Writer, g grid) {
	if g.title != "" {
		_, _ = fmt.Fprintln(w, g.title)
	}
	if len(g.rows) == 0 && g.footer == "" {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(g.header))
	for i, h := range g.header {
		header[i] = h
	}
	t.AppendHeader(header)

	for _, row := range g.rows {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = v
		}
		t.AppendRow(r)
	}
	t.Render()

	if g.footer != "" {
		_, _ = fmt.Fprintln(w, g.footer)
	}
}

func writeCSV(w io.Writer, g grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(g.header); err != nil {
		return err
	}
	if err := cw.WriteAll(g.rows); err != nil {
		return err
	}
	return cw.Error()
}
