// Package infer picks the most specific column type that accepts every
// sampled value.
package infer

import (
	"encoding/csv"
	"errors"
	"io"

	"github.com/koustreak/dbops/internal/coltype"
	"github.com/koustreak/dbops/internal/errs"
)

// DefaultSampleSize bounds how many data rows are held for inference.
const DefaultSampleSize = 1000

// candidates are tried from most to least specific. Text accepts everything.
var candidates = []coltype.Kind{
	coltype.Integer,
	coltype.Float,
	coltype.Boolean,
	coltype.Timestamp,
	coltype.Text,
}

// Column is the inferred type of one named column.
type Column struct {
	Name string       `json:"name" yaml:"name"`
	Type coltype.Type `json:"type" yaml:"type"`
}

// Infer returns one Column per name. samples holds rows of raw values;
// a value at index i belongs to names[i]. Empty strings are NULL and do not
// vote. A column with no non-empty value is Text.
func Infer(samples [][]string, names []string) []Column {
	out := make([]Column, len(names))
	for i, name := range names {
		out[i] = Column{Name: name, Type: coltype.Of(inferColumn(samples, i))}
	}
	return out
}

func inferColumn(samples [][]string, idx int) coltype.Kind {
	var values []string
	for _, row := range samples {
		if idx < len(row) && row[idx] != "" {
			values = append(values, row[idx])
		}
	}
	if len(values) == 0 {
		return coltype.Text
	}

	for _, kind := range candidates {
		if acceptsAll(kind, values) {
			return kind
		}
	}
	return coltype.Text
}

func acceptsAll(kind coltype.Kind, values []string) bool {
	for _, v := range values {
		if !coltype.Accepts(kind, v) {
			return false
		}
	}
	return true
}

// Sampler reads a bounded leading sample from a CSV stream. The buffered rows
// are replayed by Next before the rest of the stream, so sampling never
// consumes data.
type Sampler struct {
	r      *csv.Reader
	sample [][]string
	pos    int
	line   int
}

// NewSampler reads up to size data rows from r (size <= 0 ⇒ DefaultSampleSize).
// The header must already have been consumed.
func NewSampler(r *csv.Reader, size int) (*Sampler, error) {
	if size <= 0 {
		size = DefaultSampleSize
	}
	s := &Sampler{r: r}
	for len(s.sample) < size {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, csv.ErrFieldCount) {
			return nil, errs.Wrap(errs.ErrKindIO, "failed to read CSV sample", err)
		}
		s.sample = append(s.sample, rec)
	}
	return s, nil
}

// Sample returns the buffered leading rows.
func (s *Sampler) Sample() [][]string {
	return s.sample
}

// Next returns the next data row, replaying the sample first. It returns
// io.EOF at the end of the stream. Ragged rows are returned as read; the
// caller decides what a field-count mismatch means.
func (s *Sampler) Next() ([]string, error) {
	s.line++
	if s.pos < len(s.sample) {
		rec := s.sample[s.pos]
		s.pos++
		return rec, nil
	}
	rec, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if !errors.Is(err, csv.ErrFieldCount) {
			return nil, errs.Wrap(errs.ErrKindIO, "failed to read CSV row", err)
		}
	}
	return rec, nil
}

// Row returns the 1-based data row number of the record last returned by Next.
func (s *Sampler) Row() int {
	return s.line
}
