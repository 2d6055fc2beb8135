package schema

import "github.com/koustreak/dbops/internal/coltype"

// Column describes a single column in a table
type Column struct {
	Name      string       `json:"name" yaml:"name"`
	Type      coltype.Type `json:"type" yaml:"type"`
	DataType  string       `json:"data_type" yaml:"data_type"` // catalog type: integer, text, USER-DEFINED, …
	Nullable  bool         `json:"nullable" yaml:"nullable"`
	Default   *string      `json:"default,omitempty" yaml:"default,omitempty"`       // nil if no default
	MaxLength *int         `json:"max_length,omitempty" yaml:"max_length,omitempty"` // nil for unbounded types
	Position  int          `json:"position" yaml:"position"`
}

// Index is one index of a table with its full definition.
type Index struct {
	Name       string `json:"name" yaml:"name"`
	Definition string `json:"definition" yaml:"definition"`
}

// ForeignKey is one foreign key constraint. Columns and RefColumns are
// aligned pairwise, so a composite key is always described whole.
type ForeignKey struct {
	Name       string   `json:"name" yaml:"name"`
	Columns    []string `json:"columns" yaml:"columns"`
	RefSchema  string   `json:"ref_schema" yaml:"ref_schema"`
	RefTable   string   `json:"ref_table" yaml:"ref_table"`
	RefColumns []string `json:"ref_columns" yaml:"ref_columns"`
}

// Table describes a table, its columns and constraints.
// Columns is never empty for an existing table.
type Table struct {
	Schema        string       `json:"schema" yaml:"schema"`
	Name          string       `json:"name" yaml:"name"`
	Columns       []Column     `json:"columns" yaml:"columns"`
	PrimaryKey    []string     `json:"primary_key" yaml:"primary_key"`
	Indexes       []Index      `json:"indexes" yaml:"indexes"`
	ForeignKeys   []ForeignKey `json:"foreign_keys" yaml:"foreign_keys"`
	EstimatedRows int64        `json:"estimated_rows" yaml:"estimated_rows"` // planner statistics, advisory
}

// Column returns the named column, if present.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// TableSummary is one entry of ListTables.
type TableSummary struct {
	Schema        string `json:"schema" yaml:"schema"`
	Name          string `json:"name" yaml:"name"`
	EstimatedRows int64  `json:"estimated_rows" yaml:"estimated_rows"`
	TotalBytes    int64  `json:"total_bytes" yaml:"total_bytes"`
}

// TableColumns is the subset of one table's columns selected by ColumnsOfType.
type TableColumns struct {
	Schema     string
	Table      string
	Columns    []Column
	PrimaryKey []string
}

// SchemaReport is one schema of an introspection report.
type SchemaReport struct {
	Name   string   `json:"name" yaml:"name"`
	Tables []*Table `json:"tables" yaml:"tables"`
}

// Report is the full structural report of the database.
type Report struct {
	Database      string         `json:"database" yaml:"database"`
	ServerVersion string         `json:"server_version" yaml:"server_version"`
	Schemas       []SchemaReport `json:"schemas" yaml:"schemas"`
}
