// Package stats reads database-level statistics: size, largest tables and
// the other sessions connected to the current database. It never writes.
package stats

import (
	"context"
	"time"

	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/query"
)

const (
	// DefaultTopTables is how many tables a Snapshot lists.
	DefaultTopTables = 20

	// QueryPreviewLength truncates the query text of each connection.
	QueryPreviewLength = 80
)

// Size is a byte count with its human-readable rendering from pg_size_pretty.
type Size struct {
	Bytes  int64  `json:"bytes" yaml:"bytes"`
	Pretty string `json:"pretty" yaml:"pretty"`
}

// TableSize is one user table ordered by total on-disk size.
type TableSize struct {
	Schema        string `json:"schema" yaml:"schema"`
	Table         string `json:"table" yaml:"table"`
	Total         Size   `json:"total" yaml:"total"`
	Data          Size   `json:"data" yaml:"data"`
	EstimatedRows int64  `json:"estimated_rows" yaml:"estimated_rows"`
}

// Connection is another backend connected to the current database.
type Connection struct {
	PID          int64      `json:"pid" yaml:"pid"`
	User         string     `json:"user" yaml:"user"`
	Application  string     `json:"application" yaml:"application"`
	State        string     `json:"state" yaml:"state"`
	QueryStart   *time.Time `json:"query_start,omitempty" yaml:"query_start,omitempty"`
	QueryPreview string     `json:"query_preview" yaml:"query_preview"`
}

// Snapshot is a point-in-time view of the current database.
type Snapshot struct {
	Database          string       `json:"database" yaml:"database"`
	DatabaseSize      Size         `json:"database_size" yaml:"database_size"`
	TableSizes        []TableSize  `json:"table_sizes" yaml:"table_sizes"`
	ActiveConnections []Connection `json:"active_connections" yaml:"active_connections"`
}

// Collector reads statistics through one executor.
type Collector struct {
	exec *query.Executor
	log  *logger.Logger
	top  int
}

// New creates a Collector listing the top n tables (n <= 0 ⇒ DefaultTopTables).
func New(exec *query.Executor, log *logger.Logger, n int) *Collector {
	if n <= 0 {
		n = DefaultTopTables
	}
	return &Collector{exec: exec, log: logger.OrNop(log), top: n}
}

// Snapshot reads database size, the largest tables and active connections
// excluding the caller's own backend.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	const size = `
		SELECT current_database(),
		       pg_database_size(current_database()),
		       pg_size_pretty(pg_database_size(current_database()))`
	if err := c.exec.QueryRow(ctx, size).Scan(&snap.Database, &snap.DatabaseSize.Bytes, &snap.DatabaseSize.Pretty); err != nil {
		return nil, errs.Context(err, "failed to read database size")
	}

	var err error
	if snap.TableSizes, err = c.tableSizes(ctx); err != nil {
		return nil, err
	}
	if snap.ActiveConnections, err = c.connections(ctx); err != nil {
		return nil, err
	}

	c.log.With().Str("database", snap.Database).Int("tables", len(snap.TableSizes)).
		Int("connections", len(snap.ActiveConnections)).Logger().Debug("stats collected")
	return snap, nil
}

func (c *Collector) tableSizes(ctx context.Context) ([]TableSize, error) {
	const q = `
		SELECT schemaname,
		       relname,
		       pg_total_relation_size(relid),
		       pg_size_pretty(pg_total_relation_size(relid)),
		       pg_relation_size(relid),
		       pg_size_pretty(pg_relation_size(relid)),
		       n_live_tup
		FROM pg_stat_user_tables
		ORDER BY pg_total_relation_size(relid) DESC, schemaname, relname
		LIMIT $1`

	rows, err := c.exec.Stream(ctx, q, c.top)
	if err != nil {
		return nil, errs.Context(err, "failed to read table sizes")
	}
	defer rows.Close()

	out := make([]TableSize, 0)
	for rows.Next() {
		var t TableSize
		if err := rows.Scan(&t.Schema, &t.Table, &t.Total.Bytes, &t.Total.Pretty,
			&t.Data.Bytes, &t.Data.Pretty, &t.EstimatedRows); err != nil {
			return nil, errs.Context(err, "failed to scan table size")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c *Collector) connections(ctx context.Context) ([]Connection, error) {
	const q = `
		SELECT pid,
		       COALESCE(usename, ''),
		       COALESCE(application_name, ''),
		       COALESCE(state, ''),
		       query_start,
		       LEFT(COALESCE(query, ''), $1)
		FROM pg_stat_activity
		WHERE datname = current_database()
		  AND pid <> pg_backend_pid()
		ORDER BY query_start DESC NULLS LAST, pid`

	rows, err := c.exec.Stream(ctx, q, QueryPreviewLength)
	if err != nil {
		return nil, errs.Context(err, "failed to read active connections")
	}
	defer rows.Close()

	out := make([]Connection, 0)
	for rows.Next() {
		var (
			conn  Connection
			start any
		)
		if err := rows.Scan(&conn.PID, &conn.User, &conn.Application, &conn.State, &start, &conn.QueryPreview); err != nil {
			return nil, errs.Context(err, "failed to scan connection")
		}
		if t, ok := start.(time.Time); ok {
			conn.QueryStart = &t
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}
