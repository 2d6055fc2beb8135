package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
)

const (
	defaultMaxConns = 10
	defaultMinConns = 1
)

// Pool is a PostgreSQL connection pool backed by pgxpool.
// It is safe for concurrent use by multiple goroutines; every connection it
// hands out is used by exactly one caller at a time.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a pool from cfg and pings it before returning.
func NewPool(ctx context.Context, cfg *database.Config) (*Pool, error) {
	connCfg, err := ConnConfig(cfg)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection settings", err)
	}
	poolCfg.ConnConfig = connCfg

	// Apply pool settings with defaults
	poolCfg.MaxConns = withDefault(cfg.MaxConns, defaultMaxConns)
	poolCfg.MinConns = withDefault(cfg.MinConns, defaultMinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, MapError(err, "failed to create connection pool")
	}

	p := &Pool{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Acquire checks out one connection for exclusive use. Closing the returned
// Conn releases it back to the pool.
func (p *Pool) Acquire(ctx context.Context) (database.Conn, error) {
	pc, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, MapError(err, "failed to acquire pooled connection")
	}
	return &Conn{q: pc, close: func(context.Context) error {
		pc.Release()
		return nil
	}}, nil
}

// Opener adapts the pool to database.Opener so pooled connections flow
// through the same session code as dedicated ones. The config is ignored.
func (p *Pool) Opener() database.Opener {
	return func(ctx context.Context, _ *database.Config) (database.Conn, error) {
		return p.Acquire(ctx)
	}
}

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (p *Pool) Ping(ctx context.Context) error {
	return MapError(p.pool.Ping(ctx), "ping failed")
}

// Stats reports current pool usage.
func (p *Pool) Stats() (total, idle, acquired int32) {
	s := p.pool.Stat()
	return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
}

// Close drains the connection pool. Call when the application shuts down.
func (p *Pool) Close() {
	p.pool.Close()
}

// withDefault returns val if non-zero, otherwise returns def
func withDefault(val, def int32) int32 {
	if val <= 0 {
		return def
	}
	return val
}
