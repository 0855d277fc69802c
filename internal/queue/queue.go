// ABOUTME: The queue engine: all SQL touching job_queue and job_runs.
// ABOUTME: Claim is a single CTE with FOR UPDATE SKIP LOCKED; success and failure are two-statement transactions.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/telemetry"
)

const (
	defaultMaxAttempts = 5
	maxMaxAttempts     = 50

	// Bounds on stored text fields. Trimming appends an ellipsis.
	maxMessageLen = 2000
	maxStackLen   = 8000
)

// Queue owns every write to job_queue and job_runs. Workers hold a claim only
// through the status/lock columns — there is no cross-process mutex.
type Queue struct {
	pool *pgxpool.Pool
}

// New creates a Queue backed by pool.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need direct access
// (health checks, handler db handles).
func (q *Queue) Pool() *pgxpool.Pool { return q.pool }

// jobCols projects a job_queue row with every timestamptz converted to an
// epoch-milliseconds bigint. Keep the order in sync with scanJob.
const jobCols = `
    id, type, key, payload, status,
    (extract(epoch FROM run_after) * 1000)::bigint,
    attempts, max_attempts, locked_by,
    (extract(epoch FROM locked_at) * 1000)::bigint,
    last_error,
    (extract(epoch FROM last_error_at) * 1000)::bigint,
    (extract(epoch FROM created_at) * 1000)::bigint,
    (extract(epoch FROM updated_at) * 1000)::bigint`

// scanJob reads one job_queue row in jobCols order. A row with an unknown
// status or non-positive audit timestamps is reported as ErrInternal — the
// worker loop treats that as fatal rather than retrying forever. Query and
// scan errors (including pgx.ErrNoRows) are returned unwrapped.
func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Key, &j.Payload, &j.Status,
		&j.RunAfter,
		&j.Attempts, &j.MaxAttempts, &j.LockedBy,
		&j.LockedAt,
		&j.LastError,
		&j.LastErrorAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !j.Status.Valid() {
		return nil, fmt.Errorf("%w: job %d has status %q", ErrInternal, j.ID, j.Status)
	}
	if j.CreatedAt <= 0 || j.UpdatedAt <= 0 {
		return nil, fmt.Errorf("%w: job %d has non-positive audit timestamps", ErrInternal, j.ID)
	}
	return &j, nil
}

// ── Enqueue ───────────────────────────────────────────────────────────────────

// EnqueueParams are the producer-supplied fields for Enqueue. Zero values take
// the documented defaults: empty payload object, run-now, 5 attempts.
type EnqueueParams struct {
	Type        string
	Key         string
	Payload     json.RawMessage
	RunAfter    time.Time
	MaxAttempts int
}

// enqueueSQL is the reset-unless-running upsert. A conflicting row that is
// currently running keeps its payload, status, run_after and attempts so
// in-flight work is never stomped; any other state is overwritten back to a
// fresh queued job. max_attempts and updated_at refresh on every call and the
// last-error fields clear.
const enqueueSQL = `
INSERT INTO job_queue (type, key, payload, run_after, max_attempts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (type, key) DO UPDATE SET
    payload      = CASE WHEN job_queue.status = 'running' THEN job_queue.payload   ELSE EXCLUDED.payload   END,
    status       = CASE WHEN job_queue.status = 'running' THEN job_queue.status    ELSE 'queued'::job_status END,
    run_after    = CASE WHEN job_queue.status = 'running' THEN job_queue.run_after ELSE EXCLUDED.run_after END,
    attempts     = CASE WHEN job_queue.status = 'running' THEN job_queue.attempts  ELSE 0                  END,
    max_attempts = EXCLUDED.max_attempts,
    last_error    = NULL,
    last_error_at = NULL,
    updated_at    = now()
RETURNING` + jobCols

// Enqueue inserts a job or coalesces onto the existing (type, key) row.
// Returns the resulting row.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*Job, error) {
	if p.Type == "" {
		return nil, fmt.Errorf("%w: type must not be empty", ErrInvalidInput)
	}
	if p.Key == "" {
		return nil, fmt.Errorf("%w: key must not be empty", ErrInvalidInput)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxAttempts < 1 || maxAttempts > maxMaxAttempts {
		return nil, fmt.Errorf("%w: max_attempts must be in [1, %d]", ErrInvalidInput, maxMaxAttempts)
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	runAfter := p.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now()
	}

	job, err := scanJob(q.pool.QueryRow(ctx, enqueueSQL,
		p.Type, p.Key, payload, runAfter, maxAttempts))
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", p.Type, p.Key, classify(err))
	}
	telemetry.JobsEnqueued.Inc()
	return job, nil
}

// ── Claim ─────────────────────────────────────────────────────────────────────

// claimSQL locks the earliest-due runnable row and transitions it to running
// in one statement. SKIP LOCKED makes concurrent claimers scan past each
// other's candidates, so no two workers can take the same row.
const claimSQL = `
WITH candidate AS (
    SELECT id
    FROM job_queue
    WHERE status IN ('queued', 'retrying') AND run_after <= now()
    ORDER BY run_after, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE job_queue j
SET status     = 'running',
    locked_by  = $1,
    locked_at  = now(),
    attempts   = j.attempts + 1,
    updated_at = now()
FROM candidate
WHERE j.id = candidate.id
RETURNING
    j.id, j.type, j.key, j.payload, j.status,
    (extract(epoch FROM j.run_after) * 1000)::bigint,
    j.attempts, j.max_attempts, j.locked_by,
    (extract(epoch FROM j.locked_at) * 1000)::bigint,
    j.last_error,
    (extract(epoch FROM j.last_error_at) * 1000)::bigint,
    (extract(epoch FROM j.created_at) * 1000)::bigint,
    (extract(epoch FROM j.updated_at) * 1000)::bigint`

// Claim takes the single earliest-due (run_after, id) runnable job for
// workerID, bumping attempts. Returns (nil, nil) when nothing is runnable.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, claimSQL, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim: %w", classify(err))
	}
	telemetry.JobsClaimed.Inc()
	return job, nil
}

// ── Success / Failure ─────────────────────────────────────────────────────────

const insertRunSQL = `
INSERT INTO job_runs (job_id, type, key, attempt, status,
                      started_at, finished_at, duration_ms,
                      error_message, error_stack, result_summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const succeedJobSQL = `
UPDATE job_queue
SET status = 'succeeded', locked_by = NULL, locked_at = NULL,
    last_error = NULL, last_error_at = NULL, updated_at = now()
WHERE id = $1`

// Success records a successful run and moves the job to succeeded, clearing
// the lock and last-error fields, all in one transaction.
func (q *Queue) Success(ctx context.Context, claim *Job, startedAt time.Time, resultSummary string) error {
	finished := time.Now()
	duration := max(finished.Sub(startedAt).Milliseconds(), 0)
	summary := truncate(resultSummary, maxMessageLen)

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunSQL,
			claim.ID, claim.Type, claim.Key, claim.Attempts, RunSuccess,
			startedAt, finished, duration,
			nil, nil, nullable(summary)); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if _, err := tx.Exec(ctx, succeedJobSQL, claim.ID); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("success job %d: %w", claim.ID, classify(err))
	}
	telemetry.JobsSucceeded.Inc()
	return nil
}

const retryJobSQL = `
UPDATE job_queue
SET status = 'retrying', locked_by = NULL, locked_at = NULL,
    run_after = now() + ($2::bigint * interval '1 millisecond'),
    last_error = $3, last_error_at = now(), updated_at = now()
WHERE id = $1`

const deadJobSQL = `
UPDATE job_queue
SET status = 'dead', locked_by = NULL, locked_at = NULL,
    last_error = $2, last_error_at = now(), updated_at = now()
WHERE id = $1`

// Failure records a failed run and either schedules a retry with exponential
// backoff or dead-letters the job once attempts reach max_attempts. stack may
// be empty; the worker passes a captured goroutine stack for panics.
func (q *Queue) Failure(ctx context.Context, claim *Job, startedAt time.Time, jobErr error, stack string) error {
	finished := time.Now()
	duration := max(finished.Sub(startedAt).Milliseconds(), 0)

	message := "Unknown error"
	if jobErr != nil && jobErr.Error() != "" {
		message = jobErr.Error()
	}
	message = truncate(message, maxMessageLen)
	stack = truncate(stack, maxStackLen)

	willRetry := claim.Attempts < claim.MaxAttempts
	var delay time.Duration
	if willRetry {
		delay = backoffDelay(claim.Attempts)
	}

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunSQL,
			claim.ID, claim.Type, claim.Key, claim.Attempts, RunFail,
			startedAt, finished, duration,
			message, nullable(stack), nil); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if willRetry {
			if _, err := tx.Exec(ctx, retryJobSQL, claim.ID, delay.Milliseconds(), message); err != nil {
				return fmt.Errorf("update job: %w", err)
			}
			return nil
		}
		if _, err := tx.Exec(ctx, deadJobSQL, claim.ID, message); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failure job %d: %w", claim.ID, classify(err))
	}
	if willRetry {
		telemetry.JobsRetried.Inc()
	} else {
		telemetry.JobsDead.Inc()
		slog.Warn("job dead-lettered",
			"job_id", claim.ID, "type", claim.Type, "key", claim.Key,
			"attempts", claim.Attempts, "error", message)
	}
	return nil
}

// ── Stale-lease reclaim ───────────────────────────────────────────────────────

// reclaimSQL promotes every expired running row back to retrying, immediately
// eligible. No job_runs row is written — a reclaim is evidence of absence,
// not an observed completion. attempts stays spent: a stuck job burns one
// retry per lease.
const reclaimSQL = `
UPDATE job_queue
SET status = 'retrying', locked_by = NULL, locked_at = NULL,
    run_after = now(),
    last_error = COALESCE(last_error, 'stale lease reclaimed'),
    last_error_at = now(), updated_at = now()
WHERE status = 'running' AND locked_at < now() - ($1::bigint * interval '1 second')`

// ReclaimStale resets every running job whose claim (locked_at) is more than
// leaseSeconds old. Returns the number of jobs reclaimed.
func (q *Queue) ReclaimStale(ctx context.Context, leaseSeconds int) (int, error) {
	tag, err := q.pool.Exec(ctx, reclaimSQL, leaseSeconds)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", classify(err))
	}
	n := int(tag.RowsAffected())
	telemetry.JobsReclaimed.Add(float64(n))
	return n, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// truncate bounds s to limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
