// Package search finds a literal substring in every text column of a schema.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/schema"
)

const (
	// DefaultPerTable caps matching rows read per table.
	DefaultPerTable = 5

	// DefaultSnippetWidth is the snippet length in characters.
	DefaultSnippetWidth = 120
)

// Hit is one column of one row that contains the term.
type Hit struct {
	Schema  string `json:"schema" yaml:"schema"`
	Table   string `json:"table" yaml:"table"`
	Column  string `json:"column" yaml:"column"`
	RowID   string `json:"row_id" yaml:"row_id"` // primary key values joined by ",", or the 1-based row offset
	Snippet string `json:"snippet" yaml:"snippet"`
}

// Options tunes a search. Zero values select the defaults; a negative
// PerTable removes the cap.
type Options struct {
	PerTable     int
	SnippetWidth int
}

func (o Options) withDefaults() Options {
	switch {
	case o.PerTable == 0:
		o.PerTable = DefaultPerTable
	case o.PerTable < 0:
		o.PerTable = 0
	}
	if o.SnippetWidth <= 0 {
		o.SnippetWidth = DefaultSnippetWidth
	}
	return o
}

// Engine runs searches over one connection.
type Engine struct {
	exec   *query.Executor
	schema schema.Reader
	log    *logger.Logger
	opts   Options
}

// New creates a search Engine.
func New(exec *query.Executor, reader schema.Reader, log *logger.Logger, opts Options) *Engine {
	return &Engine{exec: exec, schema: reader, log: logger.OrNop(log), opts: opts.withDefaults()}
}

// Search returns a lazy stream of hits for term in the text columns of
// schemaName. Tables are visited in name order and rows in scan order. The
// stream holds the connection while a table's query is open, so callers must
// drain or Close it before running other statements.
func (e *Engine) Search(ctx context.Context, term, schemaName string) (*Hits, error) {
	if term == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "search term must not be empty")
	}
	tables, err := e.schema.ColumnsOfType(ctx, schemaName, schema.IsText)
	if err != nil {
		return nil, err
	}
	e.log.With().Str("schema", schemaName).Int("tables", len(tables)).Logger().Debug("search started")

	return &Hits{
		ctx:     ctx,
		engine:  e,
		term:    term,
		needle:  fold(term),
		pattern: database.ContainsPattern(term),
		tables:  tables,
		next:    0,
	}, nil
}

// Hits is a finite, single-use stream of search hits. It has the same shape
// as database.Rows: call Next until it returns false, then check Err.
type Hits struct {
	ctx     context.Context
	engine  *Engine
	term    string
	needle  []rune
	pattern string

	tables []schema.TableColumns
	next   int // index of the next table to open

	cur     *schema.TableColumns
	rows    database.Rows
	width   int
	offset  int
	pending []Hit
	hit     Hit
	err     error
	done    bool
}

// Next advances to the next hit.
func (h *Hits) Next() bool {
	if h.done {
		return false
	}
	for {
		if len(h.pending) > 0 {
			h.hit, h.pending = h.pending[0], h.pending[1:]
			return true
		}
		if h.rows != nil {
			if h.rows.Next() {
				if err := h.scanRow(); err != nil {
					h.fail(err)
					return false
				}
				continue
			}
			err := h.rows.Err()
			h.rows.Close()
			h.rows = nil
			if err != nil {
				h.fail(errs.Context(err, "search failed in "+h.cur.Schema+"."+h.cur.Table))
				return false
			}
		}
		if h.next >= len(h.tables) {
			h.Close()
			return false
		}
		if err := h.openTable(&h.tables[h.next]); err != nil {
			h.fail(err)
			return false
		}
		h.next++
	}
}

// Hit returns the current hit.
func (h *Hits) Hit() Hit {
	return h.hit
}

// Err returns the error that ended the stream, if any.
func (h *Hits) Err() error {
	return h.err
}

// Close releases the open table query. It is safe to call at any time.
func (h *Hits) Close() {
	if h.rows != nil {
		h.rows.Close()
		h.rows = nil
	}
	h.done = true
}

// Collect drains the stream into a slice.
func (h *Hits) Collect() ([]Hit, error) {
	defer h.Close()
	out := make([]Hit, 0)
	for h.Next() {
		out = append(out, h.Hit())
	}
	return out, h.Err()
}

func (h *Hits) fail(err error) {
	h.err = err
	h.Close()
}

// openTable issues
//
//	SELECT <pk…>, <text cols…> FROM t WHERE (c1::text ILIKE $1 ESCAPE '\' OR …) LIMIT $2
func (h *Hits) openTable(t *schema.TableColumns) error {
	textCols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		textCols[i] = c.Name
	}
	selected := append(append([]string{}, t.PrimaryKey...), textCols...)

	b := database.Select(t.Schema, t.Table).Columns(selected...).MatchAny(textCols, h.pattern)
	if limit := h.engine.opts.PerTable; limit > 0 {
		b.Limit(limit)
	}
	sql, args, err := b.Build()
	if err != nil {
		return err
	}

	rows, err := h.engine.exec.Stream(h.ctx, sql, args...)
	if err != nil {
		return errs.Context(err, "search failed in "+t.Schema+"."+t.Table)
	}
	h.cur = t
	h.rows = rows
	h.width = len(selected)
	h.offset = 0
	return nil
}

func (h *Hits) scanRow() error {
	vals, err := database.ScanValues(h.rows, h.width)
	if err != nil {
		return err
	}
	h.offset++

	nPK := len(h.cur.PrimaryKey)
	rowID := strconv.Itoa(h.offset)
	if nPK > 0 {
		parts := make([]string, nPK)
		for i := 0; i < nPK; i++ {
			parts[i] = display(vals[i])
		}
		rowID = strings.Join(parts, ",")
	}

	for i, col := range h.cur.Columns {
		v := vals[nPK+i]
		if v == nil {
			continue
		}
		text := display(v)
		idx := indexFold(text, h.needle)
		if idx < 0 {
			continue
		}
		h.pending = append(h.pending, Hit{
			Schema:  h.cur.Schema,
			Table:   h.cur.Table,
			Column:  col.Name,
			RowID:   rowID,
			Snippet: snippet(text, idx, len(h.needle), h.engine.opts.SnippetWidth),
		})
	}
	return nil
}

func display(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
