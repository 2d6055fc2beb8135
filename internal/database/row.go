package database

import (
	"database/sql/driver"
	"encoding/hex"
	"time"

	"github.com/koustreak/dbops/internal/errs"
)

// ScanValues reads the current row of rows into a slice aligned with the
// result columns. Each value is passed through NormalizeValue.
func ScanValues(rows Rows, width int) ([]any, error) {
	dest := make([]any, width)
	destPtrs := make([]any, width)
	for i := range dest {
		destPtrs[i] = &dest[i]
	}

	if err := rows.Scan(destPtrs...); err != nil {
		return nil, errs.Context(err, "failed to scan row")
	}

	for i := range dest {
		dest[i] = NormalizeValue(dest[i])
	}
	return dest, nil
}

// ScanRows reads all rows from the result set and returns them as a slice
// of maps keyed by column name.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows, so callers do not need to call Close().
func ScanRows(rows Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Context(err, "failed to read column names")
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		vals, err := ScanValues(rows, len(columns))
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = vals[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Context(err, "error during row iteration")
	}
	return result, nil
}

// NormalizeValue converts driver values into plain Go values that render
// cleanly as text, JSON or CSV: byte slices become strings, UUID arrays
// become canonical UUID text, and driver.Valuer types (numeric, intervals …)
// are unwrapped.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case [16]byte:
		return formatUUID(t)
	case time.Time:
		return t
	case driver.Valuer:
		val, err := t.Value()
		if err != nil {
			return v
		}
		return NormalizeValue(val)
	default:
		return v
	}
}

func formatUUID(b [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], b[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], b[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], b[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], b[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], b[10:])
	return string(buf[:])
}
