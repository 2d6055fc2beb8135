package database

import "context"

// Querier is the statement surface shared by a connection and a transaction.
// Every component above this package talks only to Querier (through
// query.Executor); none of them import a driver package directly.
type Querier interface {
	// Query executes a SQL statement that returns rows.
	// Callers must always Close the returned Rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	// Errors are deferred until Scan.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// Exec executes a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Conn is one live database connection.
// A Conn is not safe for concurrent use: statements run strictly one at a time.
type Conn interface {
	Querier

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Begin starts an explicit transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the connection. Calling Close twice is a no-op.
	Close(ctx context.Context) error
}

// Tx is an explicit transaction opened on a Conn.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// Opener opens one connection from an explicit configuration.
// postgres.Open and sqldb.Open both satisfy it.
type Opener func(ctx context.Context, cfg *Config) (Conn, error)
