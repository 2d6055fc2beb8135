// Package query is the single path through which SQL reaches a connection.
//
// Execute runs caller SQL with bound parameters and a row cap. Stream,
// QueryRow and Exec are the uncapped paths used by the other components for
// the statements they generate.
package query

import (
	"context"
	"strings"

	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
)

const (
	// DefaultLimit caps rows returned by Execute when the caller passes 0.
	DefaultLimit = 500

	// DefaultPreviewLimit is the preview row count when the caller passes 0.
	DefaultPreviewLimit = 10
)

// Result is the uniform tabular outcome of Execute. It is never modified
// after Execute returns.
type Result struct {
	Columns      []string `json:"columns" yaml:"columns"`
	Rows         [][]any  `json:"rows" yaml:"rows"`
	RowCount     int      `json:"row_count" yaml:"row_count"`
	Truncated    bool     `json:"truncated" yaml:"truncated"`
	RowsAffected int64    `json:"rows_affected,omitempty" yaml:"rows_affected,omitempty"`
	Command      string   `json:"command" yaml:"command"`
}

// Executor runs statements against one Querier.
type Executor struct {
	q     database.Querier
	log   *logger.Logger
	limit int
}

// New creates an Executor. A nil log discards output.
func New(q database.Querier, log *logger.Logger) *Executor {
	return &Executor{q: q, log: logger.OrNop(log), limit: DefaultLimit}
}

// WithDefaultLimit returns a copy whose Execute cap for limit <= 0 is n.
func (e *Executor) WithDefaultLimit(n int) *Executor {
	cp := *e
	if n > 0 {
		cp.limit = n
	}
	return &cp
}

// Within returns a copy of e bound to q, typically a transaction.
func (e *Executor) Within(q database.Querier) *Executor {
	cp := *e
	cp.q = q
	return &cp
}

// Execute runs sql with params bound positionally ($1, $2, …).
//
// Statements that return rows (reads and writes with a RETURNING clause)
// fetch at most limit+1 rows: if more than limit exist the result holds
// exactly limit rows and Truncated is set. Other statements run through Exec,
// auto-commit unless e is bound to a transaction, and report RowsAffected.
// limit <= 0 selects the default cap.
func (e *Executor) Execute(ctx context.Context, sql string, params []any, limit int) (*Result, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty SQL statement")
	}
	if limit <= 0 {
		limit = e.limit
	}

	command := LeadingKeyword(sql)
	if !ReturnsRows(sql) {
		n, err := e.Exec(ctx, sql, params...)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{}, Rows: [][]any{}, RowsAffected: n, Command: command}, nil
	}

	rows, err := e.Stream(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.Context(err, "failed to read result columns")
	}

	res := &Result{Columns: cols, Rows: make([][]any, 0), Command: command}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		vals, err := database.ScanValues(rows, len(cols))
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, vals)
	}
	if !res.Truncated {
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	res.RowCount = len(res.Rows)

	e.log.With().Str("command", command).Int("rows", res.RowCount).Bool("truncated", res.Truncated).Logger().
		Debug("query executed")
	return res, nil
}

// Stream runs a row-returning statement without a cap. Callers must Close
// the returned Rows.
func (e *Executor) Stream(ctx context.Context, sql string, params ...any) (database.Rows, error) {
	e.log.DebugWith("sql", map[string]interface{}{"statement": sql, "params": len(params)})
	return e.q.Query(ctx, sql, params...)
}

// QueryRow runs a statement expected to return at most one row.
func (e *Executor) QueryRow(ctx context.Context, sql string, params ...any) database.Row {
	e.log.DebugWith("sql", map[string]interface{}{"statement": sql, "params": len(params)})
	return e.q.QueryRow(ctx, sql, params...)
}

// Exec runs a statement and returns the number of rows affected.
func (e *Executor) Exec(ctx context.Context, sql string, params ...any) (int64, error) {
	e.log.DebugWith("sql", map[string]interface{}{"statement": sql, "params": len(params)})
	return e.q.Exec(ctx, sql, params...)
}

// readKeywords start statements that return rows.
var readKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"TABLE":   true,
	"SHOW":    true,
	"EXPLAIN": true,
}

// IsRead reports whether sql starts with a row-returning keyword.
func IsRead(sql string) bool {
	return readKeywords[LeadingKeyword(sql)]
}

// ReturnsRows reports whether sql produces a result set: a read statement, or
// a write carrying a RETURNING clause.
func ReturnsRows(sql string) bool {
	return IsRead(sql) || hasKeyword(sql, "RETURNING")
}

// hasKeyword reports whether word appears in sql as a bare keyword, outside
// comments, string literals and quoted identifiers.
func hasKeyword(sql, word string) bool {
	for i := 0; i < len(sql); {
		switch c := sql[i]; {
		case strings.HasPrefix(sql[i:], "--"):
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				return false
			}
			i += j + 1
		case strings.HasPrefix(sql[i:], "/*"):
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return false
			}
			i += j + 4
		case c == '\'' || c == '"':
			j := strings.IndexByte(sql[i+1:], c)
			if j < 0 {
				return false
			}
			i += j + 2
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			if strings.EqualFold(sql[i:j], word) {
				return true
			}
			i = j
		default:
			i++
		}
	}
	return false
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '$'
}

// LeadingKeyword returns the first keyword of sql in upper case, skipping
// whitespace, comments and opening parentheses.
func LeadingKeyword(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				end = len(s)
			}
			return strings.ToUpper(s[:end])
		}
	}
}
