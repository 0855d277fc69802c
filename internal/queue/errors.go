// ABOUTME: Error taxonomy for the queue engine and transient-error detection.
// ABOUTME: Callers branch with errors.Is; HTTP mapping lives in internal/api.
package queue

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidInput marks validation failures (empty type/key, bad
	// max_attempts, unknown status filter, out-of-range coordinates).
	// Admission maps it to 400.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a read-side lookup miss. Admission maps it to 404.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks database contention: serialization conflicts,
	// deadlocks, pool exhaustion. Workers retry on the next poll tick;
	// admission maps it to 503.
	ErrTransient = errors.New("transient database error")

	// ErrInternal marks a malformed row coming back from the database, e.g.
	// a timestamp that does not convert to a finite epoch-ms integer. The
	// worker loop treats it as fatal.
	ErrInternal = errors.New("internal error")
)

// Postgres SQLSTATE codes that indicate contention worth retrying.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgTooManyConnections   = "53300"
)

// classify wraps a database error with ErrTransient when it is a known
// contention code, so callers can errors.Is(err, ErrTransient) without
// importing pgconn. Context cancellation passes through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgTooManyConnections:
			return errors.Join(ErrTransient, err)
		}
	}
	return err
}
