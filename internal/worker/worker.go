// Package worker provides the concurrency-bounded pull loop that claims jobs
// from the queue engine and executes registered handlers.
//
// Handlers are registered per job type on a Registry before calling
// Pool.Start. Each batch runs up to Concurrency parallel claim attempts; an
// all-idle batch sleeps PollInterval before the next. A shared ticker
// reclaims stale leases every 30 seconds.
package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler is the function executed for each claimed job. It receives the db
// handle and the opaque payload — never the claim row, so handlers cannot
// observe or mutate queue columns. The returned value is JSON-serialized into
// the run's result summary. A non-nil error triggers retry with exponential
// backoff up to max_attempts, then dead-letter.
//
// A handler may run concurrently with a duplicate of itself when its lease
// expires mid-flight; handlers must be idempotent.
type Handler func(ctx context.Context, db *pgxpool.Pool, payload json.RawMessage) (any, error)
