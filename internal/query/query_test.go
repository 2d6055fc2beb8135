package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock := testutil.NewMockConn(t)
	return New(conn, testutil.NewTestLogger(t)), mock
}

func numberedRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id"})
	for i := 1; i <= n; i++ {
		rows.AddRow(int64(i))
	}
	return rows
}

func TestExecute_RowCap(t *testing.T) {
	tests := []struct {
		name          string
		tableRows     int
		limit         int
		wantRows      int
		wantTruncated bool
	}{
		{"700 rows default cap", 700, 0, 500, true},
		{"10 rows default cap", 10, 0, 10, false},
		{"exactly at cap", 500, 0, 500, false},
		{"one over cap", 501, 0, 500, true},
		{"explicit limit", 30, 25, 25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newExecutor(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM items")).WillReturnRows(numberedRows(tt.tableRows))

			res, err := e.Execute(context.Background(), "SELECT id FROM items", nil, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, res.RowCount)
			assert.Len(t, res.Rows, tt.wantRows)
			assert.Equal(t, tt.wantTruncated, res.Truncated)
			assert.Equal(t, "SELECT", res.Command)
			assert.Equal(t, int64(1), res.Rows[0][0])
		})
	}
}

func TestExecute_SelectOne(t *testing.T) {
	e, mock := newExecutor(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	res, err := e.Execute(context.Background(), "SELECT 1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"?column?"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1)}}, res.Rows)
	assert.Equal(t, 1, res.RowCount)
	assert.False(t, res.Truncated)
}

func TestExecute_BoundParameterIsData(t *testing.T) {
	e, mock := newExecutor(t)
	hostile := "x'; DROP TABLE users; --"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE name = $1")).
		WithArgs(hostile).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := e.Execute(context.Background(), "SELECT id FROM users WHERE name = $1", []any{hostile}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCount)
	assert.Empty(t, res.Rows)
}

func TestExecute_Write(t *testing.T) {
	e, mock := newExecutor(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = $1")).
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 4))

	res, err := e.Execute(context.Background(), "UPDATE users SET active = $1", []any{false}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsAffected)
	assert.Equal(t, "UPDATE", res.Command)
	assert.Empty(t, res.Rows)
}

func TestExecute_WriteReturningRows(t *testing.T) {
	e, mock := newExecutor(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO logs (msg) VALUES ($1) RETURNING id")).
		WithArgs("hello").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))

	res, err := e.Execute(context.Background(), "INSERT INTO logs (msg) VALUES ($1) RETURNING id", []any{"hello"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "INSERT", res.Command)
	assert.Equal(t, []string{"id"}, res.Columns)
	assert.Equal(t, [][]any{{int64(41)}}, res.Rows)
	assert.Equal(t, 1, res.RowCount)
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"DELETE FROM t WHERE id = $1 RETURNING *", true},
		{"update t set a = 1\nreturning a, b", true},
		{"INSERT INTO t (note) VALUES ('returning')", false},
		{`UPDATE "returning" SET a = 1`, false},
		{"DELETE FROM t -- returning id\n", false},
		{"DELETE FROM t /* RETURNING */", false},
		{"INSERT INTO t (returning_id) VALUES (1)", false},
		{"CREATE TABLE x (a int)", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnsRows(tt.sql))
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	e, mock := newExecutor(t)
	mock.ExpectQuery("SELEC").WillReturnError(&pgconn.PgError{Code: "42601", Message: `syntax error at or near "SELEC"`})

	_, err := e.Execute(context.Background(), "WITH x AS (SELEC 1) SELECT * FROM x", nil, 0)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), `syntax error at or near "SELEC"`)

	_, err = e.Execute(context.Background(), "   ", nil, 0)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestExecute_Within(t *testing.T) {
	conn, mock := testutil.NewMockConn(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	e := New(conn, nil)
	tx, err := conn.Begin(ctx)
	require.NoError(t, err)

	n, err := e.Within(tx).Exec(ctx, "DELETE FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit(ctx))
}

func TestLeadingKeyword(t *testing.T) {
	tests := []struct {
		sql  string
		want string
		read bool
	}{
		{"SELECT 1", "SELECT", true},
		{"  select * from t", "SELECT", true},
		{"(SELECT 1) UNION (SELECT 2)", "SELECT", true},
		{"-- comment\nWITH x AS (SELECT 1) SELECT * FROM x", "WITH", true},
		{"/* hi */ values (1)", "VALUES", true},
		{"TABLE users", "TABLE", true},
		{"SHOW search_path", "SHOW", true},
		{"EXPLAIN SELECT 1", "EXPLAIN", true},
		{"INSERT INTO t VALUES (1)", "INSERT", false},
		{"update t set a = 1", "UPDATE", false},
		{"CREATE TABLE x (a int)", "CREATE", false},
		{"-- only a comment", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, LeadingKeyword(tt.sql))
			assert.Equal(t, tt.read, IsRead(tt.sql))
		})
	}
}
