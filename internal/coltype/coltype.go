// Package coltype models column types as a closed set of kinds.
//
// Each Kind owns exactly one parse function, reached through the parsers
// table. Parsing never signals failure through errors: a parser returns
// (value, true) or (nil, false), so type detection is an ordered series of
// attempts rather than error probing.
package coltype

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the tag of a column type.
type Kind int

const (
	Other Kind = iota // any catalog type without a dedicated kind; see Type.Raw
	Integer
	Float
	Boolean
	Timestamp
	Text
	JSON
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Timestamp:
		return "timestamp"
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "other"
	}
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Type is a column type. Raw carries the catalog type name and is the only
// payload of Other.
type Type struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Raw  string `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Of returns the type for a dedicated kind.
func Of(k Kind) Type {
	return Type{Kind: k}
}

// OtherType returns the Other variant carrying the raw catalog name.
func OtherType(raw string) Type {
	return Type{Kind: Other, Raw: raw}
}

func (t Type) String() string {
	if t.Kind == Other {
		return t.Raw
	}
	return t.Kind.String()
}

// DDL renders the type for a CREATE TABLE column definition.
func (t Type) DDL() string {
	switch t.Kind {
	case Integer:
		return "BIGINT"
	case Float:
		return "DOUBLE PRECISION"
	case Boolean:
		return "BOOLEAN"
	case Timestamp:
		return "TIMESTAMP"
	case JSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// FromCatalog maps an information_schema data_type to a Type.
func FromCatalog(dataType string) Type {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return Of(Integer)
	case "real", "double precision", "float4", "float8":
		return Of(Float)
	case "numeric", "decimal":
		// Exact decimals are never routed through float64; see Coerce.
		return OtherType("numeric")
	case "boolean", "bool":
		return Of(Boolean)
	case "timestamp without time zone", "timestamp with time zone", "timestamp", "timestamptz", "date":
		return Of(Timestamp)
	case "text", "character varying", "varchar", "character", "char", "bpchar", "name", "citext":
		return Of(Text)
	case "json", "jsonb":
		return Of(JSON)
	default:
		return OtherType(dataType)
	}
}

// --- parsers ---

// parsers is the dispatch table: one parse function per kind.
var parsers = map[Kind]func(string) (any, bool){
	Integer:   parseInteger,
	Float:     parseFloat,
	Boolean:   parseBoolean,
	Timestamp: parseTimestamp,
	Text:      parseText,
	JSON:      parseJSON,
	Other:     parseText,
}

// Parse converts s under kind k.
func Parse(k Kind, s string) (any, bool) {
	p, ok := parsers[k]
	if !ok {
		return nil, false
	}
	return p(s)
}

// Accepts reports whether s parses under kind k.
func Accepts(k Kind, s string) bool {
	_, ok := Parse(k, s)
	return ok
}

func parseInteger(s string) (any, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

// parseFloat accepts s only when float64 holds it without losing digits:
// the significant digits of s must match the shortest form of the parsed
// value. "0.1" passes, a 23-digit integer does not.
func parseFloat(s string) (any, bool) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	if significantDigits(s) != significantDigits(strconv.FormatFloat(f, 'e', -1, 64)) {
		return nil, false
	}
	return f, true
}

// significantDigits strips sign, exponent, decimal point and the leading and
// trailing zeros from a decimal literal.
func significantDigits(s string) string {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "+-")
	s = strings.Replace(s, ".", "", 1)
	return strings.TrimRight(strings.TrimLeft(s, "0"), "0")
}

// decimalPattern matches the literals PostgreSQL accepts for numeric.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// parseDecimal validates an exact decimal and returns its text unchanged, so
// the server performs the conversion without rounding.
func parseDecimal(s string) (any, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "infinity", "inf":
		return s, true
	}
	if !decimalPattern.MatchString(s) {
		return nil, false
	}
	return s, true
}

func parseBoolean(s string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes":
		return true, true
	case "false", "f", "no":
		return false, true
	}
	return nil, false
}

// timestampLayouts are tried in order. time.Parse accepts fractional seconds
// after the seconds field even when the layout has none.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (any, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return nil, false
}

func parseText(s string) (any, bool) {
	return s, true
}

func parseJSON(s string) (any, bool) {
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return s, true
}
