package query

import (
	"context"

	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
)

// Preview is the first rows of a table plus its exact row count.
type Preview struct {
	Schema    string `json:"schema" yaml:"schema"`
	Table     string `json:"table" yaml:"table"`
	TotalRows int64  `json:"total_rows" yaml:"total_rows"`
	Result    `yaml:",inline"`
}

// Preview returns the first limit rows of schema.table (limit <= 0 ⇒
// DefaultPreviewLimit) and COUNT(*) over the whole table. A missing table is
// reported as ErrKindNotFound.
func (e *Executor) Preview(ctx context.Context, schema, table string, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	name := schema + "." + table

	countSQL, countArgs, err := database.Select(schema, table).Count().Build()
	if err != nil {
		return nil, err
	}
	var total int64
	if err := e.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, errs.Context(err, "failed to count rows of "+name)
	}

	sql, args, err := database.Select(schema, table).Limit(limit).Build()
	if err != nil {
		return nil, err
	}
	res, err := e.Execute(ctx, sql, args, limit)
	if err != nil {
		return nil, errs.Context(err, "failed to preview "+name)
	}
	// Truncated means the table holds more rows than the preview shows.
	res.Truncated = total > int64(res.RowCount)

	return &Preview{Schema: schema, Table: table, TotalRows: total, Result: *res}, nil
}
