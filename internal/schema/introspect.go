package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/dbops/internal/coltype"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/query"
)

// Introspector implements Reader for PostgreSQL using information_schema
// and pg_catalog.
type Introspector struct {
	exec          *query.Executor
	defaultSchema string
}

// NewIntrospector creates a new Postgres schema introspector. defaultSchema
// is tried first when a table name is given without a schema.
func NewIntrospector(exec *query.Executor, defaultSchema string) *Introspector {
	if defaultSchema == "" {
		defaultSchema = database.DefaultSchema
	}
	return &Introspector{exec: exec, defaultSchema: defaultSchema}
}

// DefaultSchema returns the schema used when callers pass none.
func (p *Introspector) DefaultSchema() string {
	return p.defaultSchema
}

func (p *Introspector) schemaOrDefault(schema string) string {
	if schema == "" {
		return p.defaultSchema
	}
	return schema
}

// ListSchemas returns user schemas ordered by name.
func (p *Introspector) ListSchemas(ctx context.Context) ([]string, error) {
	const q = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%'
		  AND schema_name <> 'information_schema'
		ORDER BY schema_name`

	return p.stringList(ctx, "failed to list schemas", q)
}

// ListTables returns all base tables in the given schema with their
// estimated row count and total on-disk size.
func (p *Introspector) ListTables(ctx context.Context, schema string) ([]TableSummary, error) {
	const q = `
		SELECT t.table_schema,
		       t.table_name,
		       GREATEST(COALESCE(c.reltuples, 0), 0)::bigint AS estimated_rows,
		       COALESCE(pg_total_relation_size(c.oid), 0)    AS total_bytes
		FROM information_schema.tables t
		JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relnamespace = n.oid AND c.relname = t.table_name
		WHERE t.table_schema = $1
		  AND t.table_type   = 'BASE TABLE'
		ORDER BY estimated_rows DESC, t.table_name`

	schema = p.schemaOrDefault(schema)
	rows, err := p.exec.Stream(ctx, q, schema)
	if err != nil {
		return nil, errs.Context(err, "failed to list tables of "+schema)
	}
	defer rows.Close()

	tables := make([]TableSummary, 0)
	for rows.Next() {
		var t TableSummary
		if err := rows.Scan(&t.Schema, &t.Name, &t.EstimatedRows, &t.TotalBytes); err != nil {
			return nil, errs.Context(err, "failed to scan table summary")
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// TableExists checks whether a specific base table exists
func (p *Introspector) TableExists(ctx context.Context, schema, table string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
			  AND table_type = 'BASE TABLE'
		)`

	var exists bool
	if err := p.exec.QueryRow(ctx, q, p.schemaOrDefault(schema), table).Scan(&exists); err != nil {
		return false, errs.Context(err, "table exists check failed")
	}
	return exists, nil
}

// Resolve returns the schema and table that a caller's table reference names.
//
// "schema.table" and an explicit schema are checked directly. A bare name is
// looked up in the default schema first, then across every user schema: one
// match resolves, several are ErrKindAmbiguous, none is ErrKindNotFound.
func (p *Introspector) Resolve(ctx context.Context, table, schema string) (string, string, error) {
	if table == "" {
		return "", "", errs.New(errs.ErrKindInvalidInput, "table name is required")
	}
	if schema == "" {
		if s, t, ok := strings.Cut(table, "."); ok && s != "" && t != "" {
			schema, table = s, t
		}
	}

	if schema != "" {
		ok, err := p.TableExists(ctx, schema, table)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", errs.Newf(errs.ErrKindNotFound, "table %s.%s does not exist", schema, table)
		}
		return schema, table, nil
	}

	const q = `
		SELECT table_schema
		FROM information_schema.tables
		WHERE table_name = $1
		  AND table_type = 'BASE TABLE'
		  AND table_schema NOT LIKE 'pg\_%'
		  AND table_schema <> 'information_schema'
		ORDER BY table_schema`

	schemas, err := p.stringList(ctx, "failed to resolve table "+table, q, table)
	if err != nil {
		return "", "", err
	}
	for _, s := range schemas {
		if s == p.defaultSchema {
			return s, table, nil
		}
	}
	switch len(schemas) {
	case 0:
		return "", "", errs.Newf(errs.ErrKindNotFound, "table %s does not exist", table)
	case 1:
		return schemas[0], table, nil
	default:
		return "", "", errs.Newf(errs.ErrKindAmbiguous,
			"table %s exists in several schemas (%s); qualify it as schema.table", table, strings.Join(schemas, ", "))
	}
}

// DescribeTable resolves table and returns its columns, primary key,
// indexes and foreign keys.
func (p *Introspector) DescribeTable(ctx context.Context, table, schema string) (*Table, error) {
	schema, table, err := p.Resolve(ctx, table, schema)
	if err != nil {
		return nil, err
	}
	name := schema + "." + table

	cols, err := p.columns(ctx, schema, table)
	if err != nil {
		return nil, errs.Context(err, "failed to describe "+name)
	}
	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %s does not exist", name)
	}

	info := &Table{Schema: schema, Name: table, Columns: cols}

	pks, err := p.PrimaryKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	info.PrimaryKey = pks[table]
	if info.PrimaryKey == nil {
		info.PrimaryKey = []string{}
	}

	if info.Indexes, err = p.indexes(ctx, schema, table); err != nil {
		return nil, errs.Context(err, "failed to list indexes of "+name)
	}
	if info.ForeignKeys, err = p.foreignKeys(ctx, schema, table); err != nil {
		return nil, errs.Context(err, "failed to list foreign keys of "+name)
	}

	const estimate = `
		SELECT GREATEST(reltuples, 0)::bigint
		FROM pg_class
		WHERE oid = $1::regclass`
	if err := p.exec.QueryRow(ctx, estimate, database.QualifiedName(schema, table)).Scan(&info.EstimatedRows); err != nil {
		return nil, errs.Context(err, "failed to read row estimate of "+name)
	}
	return info, nil
}

// columnSelect lists the columns read for every Column.
const columnSelect = `
		SELECT c.table_name,
		       c.column_name,
		       c.data_type,
		       c.udt_name,
		       c.is_nullable = 'YES' AS is_nullable,
		       c.column_default,
		       c.character_maximum_length,
		       c.ordinal_position
		FROM information_schema.columns c`

func (p *Introspector) columns(ctx context.Context, schema, table string) ([]Column, error) {
	q := columnSelect + `
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := p.exec.Stream(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		_, col, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func scanColumn(rows database.Rows) (string, Column, error) {
	var (
		table, udt string
		col        Column
	)
	if err := rows.Scan(
		&table,
		&col.Name,
		&col.DataType,
		&udt,
		&col.Nullable,
		&col.Default,
		&col.MaxLength,
		&col.Position,
	); err != nil {
		return "", Column{}, errs.Context(err, "failed to scan column")
	}
	col.Type = coltype.FromCatalog(col.DataType)
	if col.Type.Kind == coltype.Other && udt != "" {
		// USER-DEFINED and ARRAY columns are named by udt_name (citext, _int4).
		col.Type = coltype.FromCatalog(udt)
	}
	return table, col, nil
}

// PrimaryKeys returns primary key columns in key order, keyed by table.
// An empty table name selects every table of the schema.
func (p *Introspector) PrimaryKeys(ctx context.Context, schema, table string) (map[string][]string, error) {
	const q = `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1
		  AND ($2::text = '' OR tc.table_name::text = $2::text)
		ORDER BY tc.table_name, kcu.ordinal_position`

	rows, err := p.exec.Stream(ctx, q, p.schemaOrDefault(schema), table)
	if err != nil {
		return nil, errs.Context(err, "failed to read primary keys")
	}
	defer rows.Close()

	pks := make(map[string][]string)
	for rows.Next() {
		var t, c string
		if err := rows.Scan(&t, &c); err != nil {
			return nil, errs.Context(err, "failed to scan primary key")
		}
		pks[t] = append(pks[t], c)
	}
	return pks, rows.Err()
}

func (p *Introspector) indexes(ctx context.Context, schema, table string) ([]Index, error) {
	const q = `
		SELECT indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY indexname`

	rows, err := p.exec.Stream(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idx := make([]Index, 0)
	for rows.Next() {
		var i Index
		if err := rows.Scan(&i.Name, &i.Definition); err != nil {
			return nil, errs.Context(err, "failed to scan index")
		}
		idx = append(idx, i)
	}
	return idx, rows.Err()
}

// foreignKeys reads one row per column pair of every foreign key, ordered by
// constraint and key position, and folds consecutive rows of the same
// constraint into one ForeignKey.
func (p *Introspector) foreignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	const q = `
		SELECT con.conname,
		       la.attname AS column_name,
		       rn.nspname AS ref_schema,
		       rc.relname AS ref_table,
		       ra.attname AS ref_column
		FROM pg_constraint con
		JOIN pg_class rc     ON rc.oid = con.confrelid
		JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(local_attnum, ref_attnum, ord)
		JOIN pg_attribute la ON la.attrelid = con.conrelid  AND la.attnum = k.local_attnum
		JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.ref_attnum
		WHERE con.contype = 'f'
		  AND con.conrelid = $1::regclass
		ORDER BY con.conname, k.ord`

	rows, err := p.exec.Stream(ctx, q, database.QualifiedName(schema, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fks := make([]ForeignKey, 0)
	for rows.Next() {
		var name, col, refSchema, refTable, refCol string
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol); err != nil {
			return nil, errs.Context(err, "failed to scan foreign key")
		}
		if n := len(fks); n == 0 || fks[n-1].Name != name {
			fks = append(fks, ForeignKey{Name: name, RefSchema: refSchema, RefTable: refTable})
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	return fks, rows.Err()
}

// ColumnsOfType reads every column of the schema's base tables in one
// catalog query and keeps those accepted by keep, grouped per table in
// table-name order. Tables with no kept column are omitted.
func (p *Introspector) ColumnsOfType(ctx context.Context, schema string, keep func(Column) bool) ([]TableColumns, error) {
	schema = p.schemaOrDefault(schema)
	q := columnSelect + `
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema
			AND t.table_name = c.table_name
		WHERE c.table_schema = $1
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`

	rows, err := p.exec.Stream(ctx, q, schema)
	if err != nil {
		return nil, errs.Context(err, "failed to list columns of "+schema)
	}
	defer rows.Close()

	var out []TableColumns
	for rows.Next() {
		table, col, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(col) {
			continue
		}
		if n := len(out); n == 0 || out[n-1].Table != table {
			out = append(out, TableColumns{Schema: schema, Table: table})
		}
		out[len(out)-1].Columns = append(out[len(out)-1].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}
	pks, err := p.PrimaryKeys(ctx, schema, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].PrimaryKey = pks[out[i].Table]
	}
	return out, nil
}

// Introspect describes every table of schema, or of every user schema when
// schema is empty.
func (p *Introspector) Introspect(ctx context.Context, schema string) (*Report, error) {
	report := &Report{}
	const q = `SELECT current_database(), current_setting('server_version')`
	if err := p.exec.QueryRow(ctx, q).Scan(&report.Database, &report.ServerVersion); err != nil {
		return nil, errs.Context(err, "failed to read database identity")
	}

	schemas := []string{schema}
	if schema == "" {
		var err error
		if schemas, err = p.ListSchemas(ctx); err != nil {
			return nil, err
		}
	}

	for _, s := range schemas {
		summaries, err := p.ListTables(ctx, s)
		if err != nil {
			return nil, err
		}
		sr := SchemaReport{Name: s, Tables: make([]*Table, 0, len(summaries))}
		for _, ts := range summaries {
			t, err := p.DescribeTable(ctx, ts.Name, s)
			if err != nil {
				return nil, fmt.Errorf("inspecting table %q: %w", s+"."+ts.Name, err)
			}
			sr.Tables = append(sr.Tables, t)
		}
		report.Schemas = append(report.Schemas, sr)
	}
	return report, nil
}

// stringList is a helper for queries that return a single text column.
func (p *Introspector) stringList(ctx context.Context, errMsg, q string, args ...any) ([]string, error) {
	rows, err := p.exec.Stream(ctx, q, args...)
	if err != nil {
		return nil, errs.Context(err, errMsg)
	}
	defer rows.Close()

	list := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errs.Context(err, errMsg)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
