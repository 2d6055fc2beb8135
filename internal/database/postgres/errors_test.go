package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled wrapped", fmt.Errorf("read: %w", context.Canceled), errs.ErrKindTimeout},
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"statement timeout", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, errs.ErrKindTimeout},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "nope" does not exist`}, errs.ErrKindNotFound},
		{"invalid schema", &pgconn.PgError{Code: "3F000"}, errs.ErrKindNotFound},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, errs.ErrKindPermissionDenied},
		{"connection class", &pgconn.PgError{Code: "08006"}, errs.ErrKindConnectionFailed},
		{"auth class", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, errs.ErrKindConnectionFailed},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\""}, errs.ErrKindQueryFailed},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errs.ErrKindQueryFailed},
		{"plain error", errors.New("something odd"), errs.ErrKindQueryFailed},
		{"already mapped", errs.New(errs.ErrKindTypeMismatch, "bad value"), errs.ErrKindTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err, "op")
			require.Error(t, got)
			assert.Equal(t, tt.want, errs.KindOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.NoError(t, MapError(nil, "op"))
}

func TestMapError_KeepsServerMessage(t *testing.T) {
	err := MapError(&pgconn.PgError{Code: "42703", Message: `column "x" does not exist`}, "query failed")
	assert.Contains(t, err.Error(), `column "x" does not exist`)
	assert.True(t, errs.IsQueryFailed(err))
}

func TestConnConfig(t *testing.T) {
	_, err := ConnConfig(nil)
	assert.True(t, errs.IsInvalidInput(err))
}
