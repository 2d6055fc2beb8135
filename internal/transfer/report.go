package transfer

import (
	"errors"
	"fmt"

	"github.com/koustreak/dbops/internal/errs"
)

// BatchFailure records one batch that was rolled back.
type BatchFailure struct {
	Batch    int    `json:"batch" yaml:"batch"`
	FirstRow int    `json:"first_row" yaml:"first_row"`
	LastRow  int    `json:"last_row" yaml:"last_row"`
	Kind     string `json:"kind" yaml:"kind"`
	Message  string `json:"message" yaml:"message"`
	Err      error  `json:"-" yaml:"-"`
}

// Report summarises an import. RowsInserted counts rows of committed
// batches; RowsFailed counts rows of rolled-back batches.
type Report struct {
	Schema       string         `json:"schema" yaml:"schema"`
	Table        string         `json:"table" yaml:"table"`
	Mode         Mode           `json:"mode" yaml:"mode"`
	Created      bool           `json:"created" yaml:"created"`
	RowsInserted int64          `json:"rows_inserted" yaml:"rows_inserted"`
	RowsFailed   int64          `json:"rows_failed" yaml:"rows_failed"`
	Batches      int            `json:"batches" yaml:"batches"`
	Failures     []BatchFailure `json:"failures" yaml:"failures"`
}

func (r *Report) fail(batch, first, last int, err error) {
	r.RowsFailed += int64(last - first + 1)
	r.Failures = append(r.Failures, BatchFailure{
		Batch:    batch,
		FirstRow: first,
		LastRow:  last,
		Kind:     errs.KindOf(err).String(),
		Message:  err.Error(),
		Err:      err,
	})
}

// Err joins the batch failures, or returns nil when every batch committed.
// The kind of the joined error is that of the first failure.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	joined := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		joined[i] = errs.Context(f.Err, fmt.Sprintf("batch %d (rows %d-%d)", f.Batch, f.FirstRow, f.LastRow))
	}
	return errs.Context(errors.Join(joined...),
		fmt.Sprintf("%d of %d batches failed", len(r.Failures), r.Batches))
}
