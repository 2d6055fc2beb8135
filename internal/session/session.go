// Package session owns the single live database connection of one invocation.
//
// A Session is acquired from an explicit database.Config, used for strictly
// sequential statements, and released exactly once. Statements outside
// WithTransaction auto-commit.
package session

import (
	"context"
	"sync"

	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
)

// Session is one acquired connection.
type Session struct {
	conn database.Conn
	log  *logger.Logger

	mu     sync.Mutex
	closed bool
}

// Acquire opens one connection using opener. Any failure to reach or
// authenticate to the server is reported as ErrKindConnectionFailed.
func Acquire(ctx context.Context, opener database.Opener, cfg *database.Config, log *logger.Logger) (*Session, error) {
	if opener == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "session: no connection opener")
	}
	log = logger.OrNop(log)

	conn, err := opener(ctx, cfg)
	if err != nil {
		kind := errs.KindOf(err)
		if kind != errs.ErrKindInvalidInput && kind != errs.ErrKindTimeout {
			kind = errs.ErrKindConnectionFailed
		}
		return nil, errs.Wrap(kind, "could not open database session", err)
	}

	if cfg != nil {
		log.With().Str("host", cfg.Host).Int("port", cfg.Port).Str("database", cfg.Database).Logger().
			Debug("session acquired")
	}
	return New(conn, log), nil
}

// New wraps an already-open connection.
func New(conn database.Conn, log *logger.Logger) *Session {
	return &Session{conn: conn, log: logger.OrNop(log)}
}

// Querier returns the auto-commit statement surface of the session.
func (s *Session) Querier() database.Querier {
	return s.conn
}

// Conn returns the underlying connection.
func (s *Session) Conn() database.Conn {
	return s.conn
}

// Ping verifies the connection is alive.
func (s *Session) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection. Calling Close more than once is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Close(ctx)
	s.log.Debug("session released")
	return err
}

// WithTransaction runs fn inside BEGIN/COMMIT. An error returned by fn, a
// failed commit or a panic rolls the transaction back; the panic is re-raised
// after the rollback.
func (s *Session) WithTransaction(ctx context.Context, fn func(q database.Querier) error) (err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		// Rollback must still run if ctx was cancelled mid-transaction.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.log.WarnWith("rollback failed", rbErr, nil)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return errs.Context(err, "transaction not committed")
	}
	return nil
}
