// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/database/sqldb"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/stretchr/testify/require"
)

// NewMockConn returns a connection backed by go-sqlmock. Queries are matched
// as regular expressions; every expectation must be met by the end of the test.
func NewMockConn(t testing.TB) (*sqldb.Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := NewMockDB(t)

	conn, err := sqldb.New(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return conn, mock
}

// NewMockDB returns a go-sqlmock database. Every expectation must be met by
// the end of the test.
func NewMockDB(t testing.TB) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

// MockOpener pins a fresh connection of db on every call, the way a pool
// hands out connections.
func MockOpener(db *sql.DB) database.Opener {
	return func(ctx context.Context, _ *database.Config) (database.Conn, error) {
		return sqldb.New(ctx, db)
	}
}

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *logger.Logger {
	t.Helper()
	return logger.New(&logger.Config{
		Level:  "debug",
		Format: "console",
		Output: testWriter{t},
	})
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
