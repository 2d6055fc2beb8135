package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/testutil"
	"github.com/koustreak/dbops/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.NewMockDB(t)
	return New(testutil.MockOpener(db), Config{PreviewLimit: 10}, testutil.NewTestLogger(t)), mock
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errs.ErrKind
		want int
	}{
		{errs.ErrKindNotFound, http.StatusNotFound},
		{errs.ErrKindAmbiguous, http.StatusConflict},
		{errs.ErrKindInvalidInput, http.StatusBadRequest},
		{errs.ErrKindTypeMismatch, http.StatusUnprocessableEntity},
		{errs.ErrKindPermissionDenied, http.StatusForbidden},
		{errs.ErrKindConnectionFailed, http.StatusBadGateway},
		{errs.ErrKindTimeout, http.StatusGatewayTimeout},
		{errs.ErrKindQueryFailed, http.StatusInternalServerError},
		{errs.ErrKindIO, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(errs.New(tt.kind, "x")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthz_DatabaseDown(t *testing.T) {
	opener := func(context.Context, *database.Config) (database.Conn, error) {
		return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
	}
	s := New(opener, Config{}, nil)

	rec := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "connection_failed", decodeError(t, rec).Kind)
}

func TestRequestFailureIsLoggedWithRequestID(t *testing.T) {
	opener := func(context.Context, *database.Config) (database.Conn, error) {
		return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
	}
	var buf bytes.Buffer
	s := New(opener, Config{}, logger.New(&logger.Config{Level: "info", Format: "json", Output: &buf}))

	req := httptest.NewRequest(http.MethodGet, "/schemas", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var failed, access map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &failed))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &access))
	assert.Equal(t, "request failed", failed["message"])
	assert.Equal(t, "error", failed["level"])
	assert.Equal(t, "req-42", failed["request_id"])
	assert.Equal(t, "/schemas", failed["path"])
	assert.Equal(t, "http request", access["message"])
	assert.Equal(t, float64(http.StatusBadGateway), access["status"])
}

func TestSchemas(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("FROM information_schema.schemata").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("analytics").AddRow("public"))

	rec := serve(s, http.MethodGet, "/schemas", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `["analytics","public"]`, rec.Body.String())
}

func TestPreview_UnknownTable(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("public", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rec := serve(s, http.MethodGet, "/schemas/public/tables/ghost/preview", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Kind)
}

func TestPreview_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodGet, "/schemas/public/tables/users/preview?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rec).Kind)
}

func TestQuery(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery(`SELECT name FROM users WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ada"))

	rec := serve(s, http.MethodPost, "/query", `{"sql":"SELECT name FROM users WHERE id = $1","params":[7]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		RowCount  int      `json:"row_count"`
		Truncated bool     `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"name"}, got.Columns)
	assert.Equal(t, [][]any{{"ada"}}, got.Rows)
	assert.Equal(t, 1, got.RowCount)
	assert.False(t, got.Truncated)
}

func TestQuery_InvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodPost, "/query", `{"sql":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rec).Kind)
}

func TestBindParam(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"integer", json.Number("42"), int64(42)},
		{"float", json.Number("2.5"), 2.5},
		{"string", "ada", "ada"},
		{"bool", true, true},
		{"null", nil, nil},
		{"object", map[string]any{"a": json.Number("1")}, `{"a":1}`},
		{"array", []any{"x", "y"}, `["x","y"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bindParam(tt.in))
		})
	}
}

func TestExport_StreamsCSV(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sales", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec("SET TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DECLARE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD").
		WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).AddRow(int64(1), "a, b"))
	mock.ExpectExec("CLOSE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rec := serve(s, http.MethodGet, "/schemas/sales/tables/orders/export", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="orders.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,note\n1,\"a, b\"\n", rec.Body.String())
}

func TestExport_UnknownTable(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sales", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rec := serve(s, http.MethodGet, "/schemas/sales/tables/ghost/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestImport_EmptyBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodPost, "/schemas/sales/tables/orders/import", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "header row is required")
}

func TestImport_StoppedImportKeepsReport(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	cfg := Config{Engine: engine.Options{Transfer: transfer.Options{BatchSize: 1}}}
	s := New(testutil.MockOpener(db), cfg, testutil.NewTestLogger(t))

	for range 2 {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("sales", "orders").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}
	mock.ExpectQuery("FROM information_schema.columns c WHERE").
		WithArgs("sales", "orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"table_name", "column_name", "data_type", "udt_name", "is_nullable",
			"column_default", "character_maximum_length", "ordinal_position",
		}).
			AddRow("orders", "id", "bigint", "int8", false, nil, nil, int64(1)).
			AddRow("orders", "qty", "integer", "int4", true, nil, nil, int64(2)))
	mock.ExpectQuery("PRIMARY KEY").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("orders", "id"))
	mock.ExpectQuery("FROM pg_indexes").
		WillReturnRows(sqlmock.NewRows([]string{"indexname", "indexdef"}))
	mock.ExpectQuery("FROM pg_constraint con").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "column_name", "ref_schema", "ref_table", "ref_column"}))
	mock.ExpectQuery("FROM pg_class").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "sales"."orders"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "sales"."orders"`).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "terminating connection"})
	mock.ExpectRollback()

	rec := serve(s, http.MethodPost, "/schemas/sales/tables/orders/import", "id,qty\n1,10\n2,20\n3,30\n")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Error  errorDetail `json:"error"`
		Report struct {
			RowsInserted int64 `json:"rows_inserted"`
			RowsFailed   int64 `json:"rows_failed"`
			Batches      int   `json:"batches"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connection_failed", body.Error.Kind)
	assert.Contains(t, body.Error.Message, "1 rows committed")
	assert.Equal(t, int64(1), body.Report.RowsInserted)
	assert.Equal(t, int64(1), body.Report.RowsFailed)
	assert.Equal(t, 2, body.Report.Batches)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := New(nil, Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
