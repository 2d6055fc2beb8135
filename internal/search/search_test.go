package search

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/schema"
	"github.com/koustreak/dbops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columnHeader = []string{
	"table_name", "column_name", "data_type", "udt_name", "is_nullable",
	"column_default", "character_maximum_length", "ordinal_position",
}

func newEngine(t *testing.T, opts Options) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock := testutil.NewMockConn(t)
	exec := query.New(conn, testutil.NewTestLogger(t))
	return New(exec, schema.NewIntrospector(exec, ""), nil, opts), mock
}

// expectCatalog registers the two catalog queries of ColumnsOfType:
// docs(id pk, title, body) and notes(text) without a primary key.
func expectCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("JOIN information_schema.tables t").
		WillReturnRows(sqlmock.NewRows(columnHeader).
			AddRow("docs", "id", "integer", "int4", false, nil, nil, int64(1)).
			AddRow("docs", "title", "text", "text", true, nil, nil, int64(2)).
			AddRow("docs", "body", "text", "text", true, nil, nil, int64(3)).
			AddRow("notes", "text", "character varying", "varchar", true, nil, nil, int64(1)))
	mock.ExpectQuery("PRIMARY KEY").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("docs", "id"))
}

func TestSearch_LiteralPercent(t *testing.T) {
	e, mock := newEngine(t, Options{})
	expectCatalog(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "title", "body" FROM "public"."docs" WHERE ("title"::text ILIKE $1 ESCAPE '\' OR "body"::text ILIKE $1 ESCAPE '\') LIMIT $2`)).
		WithArgs(`%50\%%`, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "body"}).
			AddRow(int64(7), "50% off", "nothing here").
			AddRow(int64(9), "flash sale", "save 50% today and 50% tomorrow"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "text" FROM "public"."notes" WHERE ("text"::text ILIKE $1 ESCAPE '\') LIMIT $2`)).
		WithArgs(`%50\%%`, 5).
		WillReturnRows(sqlmock.NewRows([]string{"text"}))

	hits, err := e.Search(context.Background(), "50%", "public")
	require.NoError(t, err)
	got, err := hits.Collect()
	require.NoError(t, err)

	assert.Equal(t, []Hit{
		{Schema: "public", Table: "docs", Column: "title", RowID: "7", Snippet: "50% off"},
		{Schema: "public", Table: "docs", Column: "body", RowID: "9", Snippet: "save 50% today and 50% tomorrow"},
	}, got)
}

func TestSearch_HitPerMatchingColumnAndRowOffset(t *testing.T) {
	e, mock := newEngine(t, Options{PerTable: -1})
	expectCatalog(mock)
	mock.ExpectQuery(`FROM "public"."docs"`).
		WithArgs("%acme%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "body"}).
			AddRow(int64(1), "ACME report", "written by Acme staff"))
	mock.ExpectQuery(`FROM "public"."notes"`).
		WithArgs("%acme%").
		WillReturnRows(sqlmock.NewRows([]string{"text"}).
			AddRow("call acme").
			AddRow(nil).
			AddRow("acme again"))

	hits, err := e.Search(context.Background(), "acme", "public")
	require.NoError(t, err)
	got, err := hits.Collect()
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, "title", got[0].Column)
	assert.Equal(t, "body", got[1].Column)
	assert.Equal(t, "1", got[1].RowID)
	assert.Equal(t, "notes", got[2].Table)
	assert.Equal(t, "1", got[2].RowID)
	assert.Equal(t, "3", got[3].RowID)
}

func TestSearch_TableError(t *testing.T) {
	e, mock := newEngine(t, Options{})
	expectCatalog(mock)
	mock.ExpectQuery(`FROM "public"."docs"`).WillReturnError(assert.AnError)

	hits, err := e.Search(context.Background(), "x", "public")
	require.NoError(t, err)
	assert.False(t, hits.Next())
	require.Error(t, hits.Err())
	assert.Contains(t, hits.Err().Error(), "public.docs")
	assert.False(t, hits.Next())
}

func TestSearch_EmptyTerm(t *testing.T) {
	e, _ := newEngine(t, Options{})
	_, err := e.Search(context.Background(), "", "public")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("a", 200) + "NEEDLE" + strings.Repeat("b", 200)
	idx := indexFold(long, fold("needle"))
	require.Equal(t, 200, idx)

	got := snippet(long, idx, 6, 120)
	assert.Contains(t, got, "NEEDLE")
	assert.True(t, strings.HasPrefix(got, ellipsis))
	assert.True(t, strings.HasSuffix(got, ellipsis))
	assert.Equal(t, 120+2, len([]rune(got)))

	assert.Equal(t, "short line two", snippet("short\nline two", 0, 5, 120))

	head := snippet(strings.Repeat("x", 300), 0, 1, 120)
	assert.False(t, strings.HasPrefix(head, ellipsis))
	assert.Equal(t, 121, len([]rune(head)))
}

func TestIndexFold(t *testing.T) {
	assert.Equal(t, 4, indexFold("abc ÄBC", fold("äbc")))
	assert.Equal(t, -1, indexFold("abc", fold("abd")))
}
