package coltype

import (
	"fmt"

	"github.com/koustreak/dbops/internal/errs"
)

// CoercionError identifies the value that could not be converted.
// It is carried as the cause of an ErrKindTypeMismatch error.
type CoercionError struct {
	Column string
	Row    int // 1-based data row, header excluded
	Value  string
	Type   Type
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %q row %d: cannot convert %q to %s", e.Column, e.Row, e.Value, e.Type)
}

// Coerce converts a raw CSV value to a bind parameter for a column of type t.
// The empty string is NULL for every type. Other passes the text through so
// the server applies its own cast; numeric text is validated first.
func Coerce(value string, t Type, column string, row int) (any, error) {
	if value == "" {
		return nil, nil
	}
	parse := parsers[t.Kind]
	if t.Kind == Other && t.Raw == "numeric" {
		parse = parseDecimal
	}
	v, ok := parse(value)
	if !ok {
		cerr := &CoercionError{Column: column, Row: row, Value: value, Type: t}
		return nil, errs.Wrap(errs.ErrKindTypeMismatch, "type mismatch", cerr)
	}
	return v, nil
}
