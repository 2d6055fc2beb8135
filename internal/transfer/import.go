package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/koustreak/dbops/internal/coltype"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
)

// Import loads the CSV stream r into table.
//
// A missing table is created from types inferred over a leading sample; an
// existing table keeps its declared types and must contain every header
// column. Rows are inserted in batches, each in its own transaction: a batch
// with an unconvertible value, a ragged row or a failing statement is rolled
// back whole and recorded in the report, and the import moves on. Lost
// connections, cancellation and unreadable input stop the import; the
// returned report then covers the batches already processed.
//
// The returned error is non-nil only when the import stopped early. Use
// Report.Err for the batch failures.
func (p *Pipeline) Import(ctx context.Context, r io.Reader, table, schemaName string) (*Report, error) {
	in, err := p.openCSV(r)
	if err != nil {
		return nil, err
	}
	plan, err := p.plan(ctx, in, table, schemaName)
	if err != nil {
		return nil, err
	}

	rep := &Report{Schema: plan.Schema, Table: plan.Table, Mode: plan.Mode, Failures: []BatchFailure{}}
	log := p.log.With().Str("schema", plan.Schema).Str("table", plan.Table).Str("mode", string(plan.Mode)).Logger()

	if plan.Mode == ModeCreate {
		if err := p.createTable(ctx, plan); err != nil {
			return rep, err
		}
		rep.Created = true
		log.Info("table created")
	}

	b := &batch{}
	for {
		rec, err := in.sampler.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, stopped(err, rep)
		}
		b.add(in.sampler.Row(), rec)
		if len(b.rows) == plan.BatchSize {
			if err := p.flush(ctx, plan, b, rep); err != nil {
				return rep, err
			}
			b = &batch{}
		}
	}
	if len(b.rows) > 0 {
		if err := p.flush(ctx, plan, b, rep); err != nil {
			return rep, err
		}
	}

	log.With().Int64("inserted", rep.RowsInserted).Int64("failed", rep.RowsFailed).Int("batches", rep.Batches).Logger().
		Info("import finished")
	return rep, nil
}

func (p *Pipeline) createTable(ctx context.Context, plan *Plan) error {
	defs := make([]database.ColumnDef, len(plan.Columns))
	for i, c := range plan.Columns {
		defs[i] = database.ColumnDef{Name: c.Name, Type: c.Type.DDL()}
	}
	ddl, err := database.CreateTable(plan.Schema, plan.Table, defs)
	if err != nil {
		return err
	}
	if _, err := p.exec.Exec(ctx, ddl); err != nil {
		return errs.Context(err, "failed to create table "+plan.Schema+"."+plan.Table)
	}
	return nil
}

// batch is a run of raw CSV records with the data row number of the first.
type batch struct {
	first int
	rows  [][]string
}

func (b *batch) add(row int, rec []string) {
	if len(b.rows) == 0 {
		b.first = row
	}
	b.rows = append(b.rows, rec)
}

func (b *batch) last() int {
	return b.first + len(b.rows) - 1
}

// flush converts and inserts one batch. A conversion or statement failure
// is recorded in rep; only failures that end the import are returned.
func (p *Pipeline) flush(ctx context.Context, plan *Plan, b *batch, rep *Report) error {
	rep.Batches++
	n := rep.Batches

	values, err := convert(plan, b)
	if err == nil {
		err = p.insert(ctx, plan, values)
	}
	if err == nil {
		rep.RowsInserted += int64(len(values))
		p.log.With().Int("batch", n).Int("rows", len(values)).Logger().Debug("batch committed")
		return nil
	}

	rep.fail(n, b.first, b.last(), err)
	if fatal(ctx, err) {
		return stopped(err, rep)
	}
	p.log.WarnWith("batch rolled back", err, map[string]interface{}{
		"batch":     n,
		"first_row": b.first,
		"last_row":  b.last(),
	})
	return nil
}

// stopped annotates an error that ends the import with what was already
// committed, so a partial import is never mistaken for a failed one.
func stopped(err error, rep *Report) error {
	return errs.Context(err, fmt.Sprintf("import stopped after %d batches; %d rows committed, %d rows failed",
		rep.Batches, rep.RowsInserted, rep.RowsFailed))
}

// fatal reports whether err ends the import instead of just its batch.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errs.IsConnectionFailed(err)
}

// convert coerces every value of b to its planned column type.
func convert(plan *Plan, b *batch) ([][]any, error) {
	width := len(plan.Columns)
	out := make([][]any, len(b.rows))
	for i, rec := range b.rows {
		row := b.first + i
		if len(rec) != width {
			return nil, errs.Newf(errs.ErrKindTypeMismatch, "row %d has %d fields, want %d", row, len(rec), width)
		}
		vals := make([]any, width)
		for j, raw := range rec {
			v, err := coltype.Coerce(raw, plan.Columns[j].Type, plan.Columns[j].Name, row)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		out[i] = vals
	}
	return out, nil
}

// insert writes values in one transaction, split into statements that stay
// under the bind parameter limit.
func (p *Pipeline) insert(ctx context.Context, plan *Plan, values [][]any) error {
	cols := plan.ColumnNames()
	per := database.RowsPerStatement(len(cols))

	return p.sess.WithTransaction(ctx, func(q database.Querier) error {
		exec := p.exec.Within(q)
		for start := 0; start < len(values); start += per {
			end := min(start+per, len(values))
			ib := database.Insert(plan.Schema, plan.Table).Columns(cols...)
			for _, v := range values[start:end] {
				ib.Values(v...)
			}
			stmt, args, err := ib.Build()
			if err != nil {
				return err
			}
			if _, err := exec.Exec(ctx, stmt, args...); err != nil {
				return errs.Context(err, "insert into "+plan.Schema+"."+plan.Table+" failed")
			}
		}
		return nil
	})
}
