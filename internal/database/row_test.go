package database

import (
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceRows is an in-memory Rows used to exercise the scan helpers.
type sliceRows struct {
	cols   []string
	data   [][]any
	pos    int
	err    error
	closed bool
}

func (r *sliceRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *sliceRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		*(dest[i].(*any)) = v
	}
	return nil
}

func (r *sliceRows) Columns() ([]string, error) { return r.cols, nil }
func (r *sliceRows) Close()                     { r.closed = true }
func (r *sliceRows) Err() error                 { return r.err }

type numeric string

func (n numeric) Value() (driver.Value, error) { return string(n), nil }

func TestScanRows(t *testing.T) {
	rows := &sliceRows{
		cols: []string{"id", "name"},
		data: [][]any{{int64(1), []byte("alice")}, {int64(2), "bob"}},
	}

	got, err := ScanRows(rows)
	require.NoError(t, err)
	assert.True(t, rows.closed)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}, got)
}

func TestScanRows_Empty(t *testing.T) {
	got, err := ScanRows(&sliceRows{cols: []string{"id"}})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScanRows_IterationError(t *testing.T) {
	_, err := ScanRows(&sliceRows{cols: []string{"id"}, err: errors.New("boom")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bytes", []byte("x"), "x"},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}, "12345678-9abc-def0-1234-56789abcdef0"},
		{"time", ts, ts},
		{"valuer", numeric("12.50"), "12.50"},
		{"int", int64(7), int64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValue(tt.in))
		})
	}
}
