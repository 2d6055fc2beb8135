package schema

import (
	"context"

	"github.com/koustreak/dbops/internal/coltype"
)

// Reader is the interface for introspecting a database schema.
// Every call reads the live catalog; nothing is cached between calls.
type Reader interface {
	// DefaultSchema is the schema used when a caller names none.
	DefaultSchema() string

	// ListSchemas returns user schemas, excluding pg_* and information_schema.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables returns base tables of schema, largest estimated row count first.
	ListTables(ctx context.Context, schema string) ([]TableSummary, error)

	// DescribeTable returns the full description of a table.
	DescribeTable(ctx context.Context, table, schema string) (*Table, error)

	// ColumnsOfType returns, per table, the columns of schema accepted by keep.
	ColumnsOfType(ctx context.Context, schema string, keep func(Column) bool) ([]TableColumns, error)

	// TableExists checks whether a table exists
	TableExists(ctx context.Context, schema, table string) (bool, error)

	// Resolve finds the schema of table; see Introspector.Resolve.
	Resolve(ctx context.Context, table, schema string) (string, string, error)

	// Introspect returns every table of schema (or of all schemas when empty).
	Introspect(ctx context.Context, schema string) (*Report, error)
}

// IsText selects text-compatible columns.
func IsText(c Column) bool {
	return c.Type.Kind == coltype.Text
}

var _ Reader = (*Introspector)(nil)
