package transfer

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/schema"
	"github.com/koustreak/dbops/internal/session"
	"github.com/koustreak/dbops/internal/testutil"
)

var columnHeader = []string{
	"table_name", "column_name", "data_type", "udt_name", "is_nullable",
	"column_default", "character_maximum_length", "ordinal_position",
}

func newPipeline(t *testing.T, opts Options) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock := testutil.NewMockConn(t)
	log := testutil.NewTestLogger(t)
	exec := query.New(conn, log)
	return New(session.New(conn, log), exec, schema.NewIntrospector(exec, ""), log, opts), mock
}

func expectExists(mock sqlmock.Sqlmock, schemaName, table string, exists bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(schemaName, table).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

// expectOrdersTable mocks DescribeTable of sales.orders (id bigint, qty integer, note text).
func expectOrdersTable(mock sqlmock.Sqlmock) {
	expectExists(mock, "sales", "orders", true)
	expectExists(mock, "sales", "orders", true)
	mock.ExpectQuery("FROM information_schema.columns c WHERE").
		WithArgs("sales", "orders").
		WillReturnRows(sqlmock.NewRows(columnHeader).
			AddRow("orders", "id", "bigint", "int8", false, nil, nil, int64(1)).
			AddRow("orders", "qty", "integer", "int4", true, nil, nil, int64(2)).
			AddRow("orders", "note", "text", "text", true, nil, nil, int64(3)))
	mock.ExpectQuery("PRIMARY KEY").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("orders", "id"))
	mock.ExpectQuery("FROM pg_indexes").
		WillReturnRows(sqlmock.NewRows([]string{"indexname", "indexdef"}))
	mock.ExpectQuery("FROM pg_constraint con").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "column_name", "ref_schema", "ref_table", "ref_column"}))
	mock.ExpectQuery("FROM pg_class").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}).AddRow(int64(0)))
}
