package transfer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/query"
)

// cursorPrefix names export cursors; a random suffix keeps them unique.
const cursorPrefix = "dbops_export_"

// Source is what Export reads: a table, or a caller query when SQL is set.
type Source struct {
	Schema string
	Table  string
	SQL    string
	Params []any
}

func (s Source) String() string {
	if s.SQL != "" {
		return "query"
	}
	if s.Schema != "" {
		return s.Schema + "." + s.Table
	}
	return s.Table
}

// Export writes src to w as CSV: one header row, then every row of the
// result. There is no row cap; rows are fetched through a server-side cursor
// inside a read-only transaction so memory stays bounded. It returns the
// number of data rows written.
func (p *Pipeline) Export(ctx context.Context, src Source, w io.Writer) (int64, error) {
	stmt, args, err := p.exportStatement(ctx, src)
	if err != nil {
		return 0, err
	}

	cursor := database.QuoteIdent(cursorPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
	cw := csv.NewWriter(w)
	var written int64

	err = p.sess.WithTransaction(ctx, func(q database.Querier) error {
		exec := p.exec.Within(q)
		if _, err := exec.Exec(ctx, "SET TRANSACTION READ ONLY"); err != nil {
			return errs.Context(err, "failed to start export transaction")
		}
		if _, err := exec.Exec(ctx, "DECLARE "+cursor+" NO SCROLL CURSOR FOR "+stmt, args...); err != nil {
			return errs.Context(err, "failed to open export cursor for "+src.String())
		}

		fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", p.opts.ChunkSize, cursor)
		header := false
		for {
			n, err := p.fetchChunk(ctx, exec, fetch, cw, !header)
			if err != nil {
				return err
			}
			header = true
			written += int64(n)
			if n < p.opts.ChunkSize {
				break
			}
		}

		if _, err := exec.Exec(ctx, "CLOSE "+cursor); err != nil {
			return errs.Context(err, "failed to close export cursor")
		}
		return nil
	})
	if err != nil {
		return written, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, errs.Wrap(errs.ErrKindIO, "failed to write CSV", err)
	}

	p.log.With().Str("source", src.String()).Int64("rows", written).Logger().Info("export finished")
	return written, nil
}

// exportStatement validates src and returns the SELECT the cursor runs.
func (p *Pipeline) exportStatement(ctx context.Context, src Source) (string, []any, error) {
	if src.SQL != "" {
		if !query.IsRead(src.SQL) {
			return "", nil, errs.Newf(errs.ErrKindInvalidInput,
				"export query must be a read statement, got %s", query.LeadingKeyword(src.SQL))
		}
		return strings.TrimRight(strings.TrimSpace(src.SQL), ";"), src.Params, nil
	}

	schemaName, table, err := p.schema.Resolve(ctx, src.Table, src.Schema)
	if err != nil {
		return "", nil, err
	}
	stmt, args, err := database.Select(schemaName, table).Build()
	return stmt, args, err
}

// fetchChunk reads one FETCH result into cw and returns the rows written.
// The rows are closed before returning so the cursor can be fetched again.
func (p *Pipeline) fetchChunk(ctx context.Context, exec *query.Executor, fetch string, cw *csv.Writer, withHeader bool) (int, error) {
	rows, err := exec.Stream(ctx, fetch)
	if err != nil {
		return 0, errs.Context(err, "failed to fetch export rows")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, errs.Context(err, "failed to read export columns")
	}
	if withHeader {
		if err := cw.Write(cols); err != nil {
			return 0, errs.Wrap(errs.ErrKindIO, "failed to write CSV header", err)
		}
	}

	n := 0
	record := make([]string, len(cols))
	for rows.Next() {
		vals, err := database.ScanValues(rows, len(cols))
		if err != nil {
			return n, err
		}
		for i, v := range vals {
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return n, errs.Wrap(errs.ErrKindIO, "failed to write CSV row", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, errs.Wrap(errs.ErrKindIO, "failed to write CSV", err)
	}
	return n, nil
}

// FormatValue renders a normalised column value as a CSV field. NULL is the
// empty string, which Import reads back as NULL.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
