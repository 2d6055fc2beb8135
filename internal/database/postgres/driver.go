// Package postgres implements the database capability on top of pgx.
//
// Open returns one dedicated connection (the CLI path); NewPool returns a
// pgxpool-backed Pool whose Acquire hands out exclusive pooled connections
// (the HTTP service path). Both expose the same database.Conn surface and
// translate every pgx error through MapError.
package postgres

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
)

// Open connects to PostgreSQL using the provided Config and returns a single
// dedicated connection. It pings before returning.
func Open(ctx context.Context, cfg *database.Config) (database.Conn, error) {
	connCfg, err := ConnConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, MapError(err, "failed to connect to "+cfg.Host)
	}

	c := &Conn{q: conn, close: func(ctx context.Context) error { return conn.Close(ctx) }}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return c, nil
}

// ConnConfig parses cfg into a pgx connection config with the statement
// timeout applied as a run-time parameter.
func ConnConfig(cfg *database.Config) (*pgx.ConnConfig, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "database config is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection settings", err)
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	if cfg.StatementTimeout > 0 {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if cfg.ApplicationName != "" {
		connCfg.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	return connCfg, nil
}

// pgxQuerier is the method set shared by *pgx.Conn and *pgxpool.Conn.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Conn implements database.Conn for one pgx connection, dedicated or pooled.
type Conn struct {
	q     pgxQuerier
	close func(ctx context.Context) error
	once  sync.Once
	err   error
}

// --- database.Conn implementation ---

// Ping verifies the database is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return MapError(c.q.Ping(ctx), "ping failed")
}

// Close releases the connection. Subsequent calls return the first result.
func (c *Conn) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.err = MapError(c.close(ctx), "failed to close connection")
	})
	return c.err
}

// Query executes a SQL statement that returns multiple rows.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := c.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, MapError(err, "query failed")
	}
	return &pgxRows{rows: rows}, nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgxRow{row: c.q.QueryRow(ctx, sql, args...)}
}

// Exec executes a statement returning the number of rows affected.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, MapError(err, "statement failed")
	}
	return tag.RowsAffected(), nil
}

// Begin starts a transaction.
func (c *Conn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.q.Begin(ctx)
	if err != nil {
		return nil, MapError(err, "failed to begin transaction")
	}
	return &pgTx{tx: tx}, nil
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return MapError(r.rows.Scan(dest...), "failed to scan row") }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return MapError(r.rows.Err(), "query failed") }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// pgxRow wraps pgx.Row to satisfy database.Row.
type pgxRow struct {
	row pgx.Row
}

func (r *pgxRow) Scan(dest ...any) error { return MapError(r.row.Scan(dest...), "query failed") }

// pgTx wraps pgx.Tx to satisfy database.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, MapError(err, "query failed")
	}
	return &pgxRows{rows: rows}, nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgxRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, MapError(err, "statement failed")
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return MapError(t.tx.Commit(ctx), "commit failed")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return MapError(err, "rollback failed")
}
