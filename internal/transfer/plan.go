package transfer

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/infer"
	"github.com/koustreak/dbops/internal/schema"
)

// Mode says whether an import creates its table or appends to one.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeAppend Mode = "append"
)

// Plan describes how a CSV stream maps onto a table before any write.
//
// In ModeAppend the columns are a subset of the existing table's, typed by
// their declared types. In ModeCreate they fully determine the new table.
type Plan struct {
	Schema    string         `json:"schema" yaml:"schema"`
	Table     string         `json:"table" yaml:"table"`
	Mode      Mode           `json:"mode" yaml:"mode"`
	Columns   []infer.Column `json:"columns" yaml:"columns"`
	BatchSize int            `json:"batch_size" yaml:"batch_size"`
}

// ColumnNames returns the planned column names in CSV order.
func (p *Plan) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// csvInput is an opened CSV stream with its header consumed and a leading
// sample buffered.
type csvInput struct {
	header  []string
	sampler *infer.Sampler
}

func (p *Pipeline) openCSV(r io.Reader) (*csvInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rec, err := cr.Read()
	if err == io.EOF {
		return nil, errs.New(errs.ErrKindInvalidInput, "CSV input is empty; a header row is required")
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "failed to read CSV header", err)
	}
	header, err := cleanHeader(rec)
	if err != nil {
		return nil, err
	}

	sampler, err := infer.NewSampler(cr, p.opts.SampleSize)
	if err != nil {
		return nil, err
	}
	return &csvInput{header: header, sampler: sampler}, nil
}

// cleanHeader trims each name and rejects empty or duplicate names.
func cleanHeader(rec []string) ([]string, error) {
	header := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, name := range rec {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "CSV header column %d is empty", i+1)
		}
		if prev, ok := seen[name]; ok {
			return nil, errs.Newf(errs.ErrKindInvalidInput,
				"CSV header repeats column %q (positions %d and %d)", name, prev+1, i+1)
		}
		seen[name] = i
		header[i] = name
	}
	return header, nil
}

// BuildPlan reads the header and leading sample of r and decides how it
// would be imported into table, without writing anything.
func (p *Pipeline) BuildPlan(ctx context.Context, r io.Reader, table, schemaName string) (*Plan, error) {
	in, err := p.openCSV(r)
	if err != nil {
		return nil, err
	}
	return p.plan(ctx, in, table, schemaName)
}

func (p *Pipeline) plan(ctx context.Context, in *csvInput, table, schemaName string) (*Plan, error) {
	if table == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "table name is required")
	}
	// Imports never search other schemas: the target is exactly the named
	// or default schema.
	s, t := splitTarget(table, schemaName, p.schema.DefaultSchema())
	exists, err := p.schema.TableExists(ctx, s, t)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Plan{
			Schema:    s,
			Table:     t,
			Mode:      ModeCreate,
			Columns:   infer.Infer(in.sampler.Sample(), in.header),
			BatchSize: p.opts.BatchSize,
		}, nil
	}

	desc, err := p.schema.DescribeTable(ctx, t, s)
	if err != nil {
		return nil, err
	}
	return appendPlan(desc, in.header, p.opts.BatchSize)
}

// appendPlan types header by the declared columns of desc. Every header name
// must exist in the table.
func appendPlan(desc *schema.Table, header []string, batchSize int) (*Plan, error) {
	cols := make([]infer.Column, len(header))
	var unknown []string
	for i, name := range header {
		c, ok := desc.Column(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		cols[i] = infer.Column{Name: name, Type: c.Type}
	}
	if len(unknown) > 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %s.%s has no column(s): %s",
			desc.Schema, desc.Name, strings.Join(unknown, ", "))
	}
	return &Plan{
		Schema:    desc.Schema,
		Table:     desc.Name,
		Mode:      ModeAppend,
		Columns:   cols,
		BatchSize: batchSize,
	}, nil
}

// splitTarget names the table an import writes to: an explicit schema, then a
// "schema.table" reference, then the default schema.
func splitTarget(table, schemaName, defaultSchema string) (string, string) {
	if schemaName != "" {
		return schemaName, table
	}
	if s, t, ok := strings.Cut(table, "."); ok && s != "" && t != "" {
		return s, t
	}
	return defaultSchema, table
}
