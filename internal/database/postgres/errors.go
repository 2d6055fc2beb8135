package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/dbops/internal/errs"
)

// PostgreSQL SQLSTATE error codes with a dedicated mapping.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrQueryCanceled      = "57014"
	pgErrUndefinedTable     = "42P01"
	pgErrInvalidSchemaName  = "3F000"
	pgErrInsufficientPriv   = "42501"
	pgClassConnection       = "08"
	pgClassInvalidAuthorize = "28"
)

// MapError translates pgx / pgconn native errors into *errs.Error.
// It returns nil for a nil err, and errors that are already *errs.Error keep
// their kind under the new message.
func MapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return errs.Context(err, msg)
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(kindForCode(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Connection-level errors (TLS, network, auth handshake)
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	if pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

func kindForCode(code string) errs.ErrKind {
	switch code {
	case pgErrQueryCanceled:
		return errs.ErrKindTimeout
	case pgErrUndefinedTable, pgErrInvalidSchemaName:
		return errs.ErrKindNotFound
	case pgErrInsufficientPriv:
		return errs.ErrKindPermissionDenied
	}
	if len(code) >= 2 {
		switch code[:2] {
		case pgClassConnection, pgClassInvalidAuthorize:
			return errs.ErrKindConnectionFailed
		}
	}
	return errs.ErrKindQueryFailed
}
