// Package sqldb adapts a database/sql handle to the database capability.
//
// Open goes through the pgx stdlib driver, so it talks to the same servers as
// package postgres. New wraps any *sql.DB, which is how the engine packages
// are tested against go-sqlmock.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/database/postgres"
	"github.com/koustreak/dbops/internal/errs"
)

// Open connects through database/sql with the pgx driver and pins one
// connection for the lifetime of the returned Conn.
func Open(ctx context.Context, cfg *database.Config) (database.Conn, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "database config is required")
	}
	connCfg, err := postgres.ConnConfig(cfg)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(1)

	c, err := newConn(ctx, db, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New pins one connection of db. Closing the returned Conn returns the
// connection to db but leaves db itself open.
func New(ctx context.Context, db *sql.DB) (*Conn, error) {
	return newConn(ctx, db, false)
}

func newConn(ctx context.Context, db *sql.DB, ownDB bool) (*Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, mapError(err, "failed to connect")
	}
	c := &Conn{db: db, conn: conn, ownDB: ownDB}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Conn implements database.Conn over one pinned *sql.Conn.
type Conn struct {
	db    *sql.DB
	conn  *sql.Conn
	ownDB bool
	once  sync.Once
	err   error
}

// Ping verifies the database is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return mapError(c.conn.PingContext(ctx), "ping failed")
}

// Close releases the pinned connection. Calling Close twice is a no-op.
func (c *Conn) Close(_ context.Context) error {
	c.once.Do(func() {
		err := c.conn.Close()
		if c.ownDB {
			err = errors.Join(err, c.db.Close())
		}
		c.err = mapError(err, "failed to close connection")
	})
	return c.err
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return queryRows(c.conn.QueryContext(ctx, query, args...))
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqlRow{row: c.conn.QueryRowContext(ctx, query, args...)}
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(c.conn.ExecContext(ctx, query, args...))
}

// Begin starts a transaction on the pinned connection.
func (c *Conn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err, "failed to begin transaction")
	}
	return &sqlTx{tx: tx}, nil
}

// --- database/sql type wrappers ---

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return queryRows(t.tx.QueryContext(ctx, query, args...))
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqlRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(t.tx.ExecContext(ctx, query, args...))
}

func (t *sqlTx) Commit(_ context.Context) error {
	return mapError(t.tx.Commit(), "commit failed")
}

func (t *sqlTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return mapError(err, "rollback failed")
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return mapError(r.rows.Scan(dest...), "failed to scan row") }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { _ = r.rows.Close() }
func (r *sqlRows) Err() error                 { return mapError(r.rows.Err(), "query failed") }

type sqlRow struct {
	row *sql.Row
}

func (r *sqlRow) Scan(dest ...any) error { return mapError(r.row.Scan(dest...), "query failed") }

func queryRows(rows *sql.Rows, err error) (database.Rows, error) {
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &sqlRows{rows: rows}, nil
}

func execResult(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapError(err, "statement failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) report no count.
		return 0, nil
	}
	return n, nil
}

// mapError adds the database/sql sentinels to postgres.MapError.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return postgres.MapError(err, msg)
}
