package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/koustreak/dbops/internal/errs"
)

// MaxBindParams is the PostgreSQL wire-protocol limit on parameters per statement.
const MaxBindParams = 65535

// LikeEscape is the escape character bound into every generated ILIKE clause.
const LikeEscape = `\`

// validOps is the allowlist of comparison operators for WHERE clauses.
// Any operator not in this list is rejected to prevent SQL injection
// through the operator position (which cannot be parameterized).
var validOps = map[string]bool{
	"=":     true,
	"!=":    true,
	"<>":    true,
	"<":     true,
	">":     true,
	"<=":    true,
	">=":    true,
	"LIKE":  true,
	"ILIKE": true,
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string; they are always passed as args.
//
// Usage:
//
//	sql, args, err := Select("public", "users").
//	    Columns("id", "name", "email").
//	    Where("active", "=", true).
//	    OrderBy("created_at", Desc).
//	    Limit(20).
//	    Build()
type SelectBuilder struct {
	schema  string
	table   string
	columns []string
	count   bool
	where   []whereClause
	anyOf   *matchClause
	orderBy []orderClause
	limit   *int
	offset  *int
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string
	value  any
}

// matchClause is an OR-group of case-insensitive pattern matches that all
// share one bound pattern.
type matchClause struct {
	columns []string
	pattern string
}

type orderClause struct {
	column string
	dir    SortDirection
}

// Select starts a new SelectBuilder for schema.table.
// An empty schema leaves the table name unqualified.
func Select(schema, table string) *SelectBuilder {
	return &SelectBuilder{schema: schema, table: table}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Count turns the query into SELECT COUNT(*).
func (b *SelectBuilder) Count() *SelectBuilder {
	b.count = true
	return b
}

// Where adds a WHERE condition. op must be one of the allowed comparison
// operators (=, !=, <, >, <=, >=, LIKE, ILIKE).
// Multiple calls are combined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column, op, value})
	return b
}

// MatchAny adds `(c1::text ILIKE $n ESCAPE '\' OR c2::text ILIKE $n …)`.
// pattern is bound once and must already be escaped with EscapeLike.
func (b *SelectBuilder) MatchAny(columns []string, pattern string) *SelectBuilder {
	b.anyOf = &matchClause{columns: columns, pattern: pattern}
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip (for pagination).
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
// Returns an error if any WHERE operator is not in the allowlist.
func (b *SelectBuilder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "select: table name is required")
	}

	// --- column list ---
	cols := "*"
	switch {
	case b.count:
		cols = "COUNT(*)"
	case len(b.columns) > 0:
		cols = QuoteIdents(b.columns)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(QualifiedName(b.schema, b.table))

	var args []any
	argIdx := 1

	// --- WHERE ---
	var parts []string
	for _, w := range b.where {
		op := strings.ToUpper(w.op)
		if !validOps[op] {
			return "", nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", w.op)
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", QuoteIdent(w.column), op, placeholder(argIdx)))
		args = append(args, w.value)
		argIdx++
	}
	if b.anyOf != nil {
		if len(b.anyOf.columns) == 0 {
			return "", nil, errs.New(errs.ErrKindInvalidInput, "match: at least one column is required")
		}
		ph := placeholder(argIdx)
		ors := make([]string, len(b.anyOf.columns))
		for i, c := range b.anyOf.columns {
			ors[i] = fmt.Sprintf("%s::text ILIKE %s ESCAPE '%s'", QuoteIdent(c), ph, LikeEscape)
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
		args = append(args, b.anyOf.pattern)
		argIdx++
	}
	if len(parts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	// --- ORDER BY ---
	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", QuoteIdent(o.column), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	// --- LIMIT ---
	if b.limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(placeholder(argIdx))
		args = append(args, *b.limit)
		argIdx++
	}

	// --- OFFSET ---
	if b.offset != nil {
		sb.WriteString(" OFFSET ")
		sb.WriteString(placeholder(argIdx))
		args = append(args, *b.offset)
	}

	return sb.String(), args, nil
}

// InsertBuilder constructs a multi-row parameterized INSERT.
type InsertBuilder struct {
	schema  string
	table   string
	columns []string
	rows    [][]any
}

// Insert starts a new InsertBuilder for schema.table.
func Insert(schema, table string) *InsertBuilder {
	return &InsertBuilder{schema: schema, table: table}
}

// Columns sets the target column list.
func (b *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	b.columns = cols
	return b
}

// Values appends one row. Its length must match the column list.
func (b *InsertBuilder) Values(vals ...any) *InsertBuilder {
	b.rows = append(b.rows, vals)
	return b
}

// RowsPerStatement returns how many rows of width cols fit under MaxBindParams.
func RowsPerStatement(cols int) int {
	if cols <= 0 {
		return 1
	}
	n := MaxBindParams / cols
	if n < 1 {
		return 1
	}
	return n
}

// Build produces the INSERT statement and its flattened arguments.
func (b *InsertBuilder) Build() (string, []any, error) {
	if b.table == "" || len(b.columns) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "insert: table and columns are required")
	}
	if len(b.rows) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "insert: no rows")
	}
	if len(b.rows)*len(b.columns) > MaxBindParams {
		return "", nil, errs.Newf(errs.ErrKindInvalidInput,
			"insert: %d rows x %d columns exceeds %d bind parameters", len(b.rows), len(b.columns), MaxBindParams)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(QualifiedName(b.schema, b.table))
	sb.WriteString(" (")
	sb.WriteString(QuoteIdents(b.columns))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(b.rows)*len(b.columns))
	argIdx := 1
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, errs.Newf(errs.ErrKindInvalidInput,
				"insert: row %d has %d values, want %d", i+1, len(row), len(b.columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder(argIdx))
			args = append(args, v)
			argIdx++
		}
		sb.WriteByte(')')
	}
	return sb.String(), args, nil
}

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name    string
	Type    string // rendered verbatim; must come from a fixed set, never from user input
	NotNull bool
}

// CreateTable renders a CREATE TABLE statement for schema.table.
func CreateTable(schema, table string, cols []ColumnDef) (string, error) {
	if table == "" || len(cols) == 0 {
		return "", errs.New(errs.ErrKindInvalidInput, "create table: table and columns are required")
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		def := QuoteIdent(c.Name) + " " + c.Type
		if c.NotNull {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QualifiedName(schema, table), strings.Join(defs, ", ")), nil
}

// placeholder returns the PostgreSQL positional parameter for idx ($1, $2, …).
func placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

// QuoteIdent wraps a SQL identifier in double-quotes (ANSI standard).
// This safely handles reserved words, mixed case and embedded quotes.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteIdents quotes and comma-joins a list of identifiers.
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// QualifiedName returns "schema"."table", or just "table" when schema is empty.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdent(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// EscapeLike escapes the LIKE metacharacters (%, _ and the escape character
// itself) so that s matches literally inside a pattern.
func EscapeLike(s string) string {
	r := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, "%", LikeEscape+"%", "_", LikeEscape+"_")
	return r.Replace(s)
}

// ContainsPattern returns the escaped ILIKE pattern for a literal substring match.
func ContainsPattern(term string) string {
	return "%" + EscapeLike(term) + "%"
}
