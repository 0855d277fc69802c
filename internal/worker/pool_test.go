// ABOUTME: End-to-end worker pool tests: claim → handler → success/failure,
// ABOUTME: retry then success, dead-letter, missing handler, location upsert.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/queue"
	"github.com/nickskupien/sunset-sunrise-predictor/internal/testutil"
	"github.com/nickskupien/sunset-sunrise-predictor/internal/worker"
)

func testConfig() worker.Config {
	return worker.Config{
		WorkerID:     "test-worker",
		Concurrency:  1,
		PollInterval: 50 * time.Millisecond,
		LeaseSeconds: 120,
	}
}

// runPoolUntil starts the pool and blocks until cond reports done or the
// deadline passes, then shuts the pool down.
func runPoolUntil(t *testing.T, p *worker.Pool, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
	require.True(t, cond(), "condition not reached before deadline")
}

func jobStatus(t *testing.T, q *queue.Queue, id int64) queue.Status {
	t.Helper()
	job, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job.Status
}

func TestPoolSuccessPath(t *testing.T) {
	t.Parallel()
	q := queue.New(testutil.NewTestDB(t))
	reg := worker.NewRegistry()
	pool := worker.New(q, reg, testConfig())

	job, err := q.Enqueue(context.Background(), queue.EnqueueParams{
		Type: "ping", Key: "ping:test",
		Payload: json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)

	runPoolUntil(t, pool, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusSucceeded
	})

	final, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, final.Attempts)
	require.Nil(t, final.LockedBy)

	runs, err := q.ListRuns(context.Background(), job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, queue.RunSuccess, runs[0].Status)
	require.Equal(t, 1, runs[0].Attempt)
	require.GreaterOrEqual(t, runs[0].DurationMs, int64(0))
	require.NotNil(t, runs[0].ResultSummary)
	require.JSONEq(t, `{"ok":true,"payload":{"msg":"hi"}}`, *runs[0].ResultSummary)
}

func TestPoolRetryThenSuccess(t *testing.T) {
	t.Parallel()
	q := queue.New(testutil.NewTestDB(t))
	reg := worker.NewRegistry()

	var calls atomic.Int64
	reg.Register("flaky", func(context.Context, *pgxpool.Pool, json.RawMessage) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient handler failure")
		}
		return map[string]any{"ok": true}, nil
	})
	pool := worker.New(q, reg, testConfig())

	t0 := time.Now()
	job, err := q.Enqueue(context.Background(), queue.EnqueueParams{Type: "flaky", Key: "flaky:1"})
	require.NoError(t, err)

	runPoolUntil(t, pool, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusRetrying
	})

	mid, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, mid.LastError)
	require.GreaterOrEqual(t, mid.RunAfter, t0.Add(10*time.Second).UnixMilli(),
		"first retry backs off at least the 10s base")

	// Skip the backoff instead of waiting it out.
	_, err = q.Pool().Exec(context.Background(),
		`UPDATE job_queue SET run_after = now() WHERE id = $1`, job.ID)
	require.NoError(t, err)

	pool2 := worker.New(q, reg, testConfig())
	runPoolUntil(t, pool2, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusSucceeded
	})

	final, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, final.Attempts)
	require.Nil(t, final.LastError, "success clears last_error")

	runs, err := q.ListRuns(context.Background(), job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, queue.RunSuccess, runs[0].Status)
	require.Equal(t, queue.RunFail, runs[1].Status)
}

func TestPoolDeadLetter(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	q := queue.New(db)
	reg := worker.NewRegistry()
	reg.Register("doomed", func(context.Context, *pgxpool.Pool, json.RawMessage) (any, error) {
		return nil, errors.New("permanent failure")
	})
	pool := worker.New(q, reg, testConfig())

	job, err := q.Enqueue(context.Background(), queue.EnqueueParams{
		Type: "doomed", Key: "doomed:1", MaxAttempts: 2,
	})
	require.NoError(t, err)

	runPoolUntil(t, pool, func() bool {
		st := jobStatus(t, q, job.ID)
		if st == queue.StatusRetrying {
			// Collapse the backoff so the second attempt happens promptly.
			_, _ = db.Exec(context.Background(),
				`UPDATE job_queue SET run_after = now() WHERE id = $1 AND status = 'retrying'`, job.ID)
		}
		return st == queue.StatusDead
	})

	final, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, final.Attempts)
	require.Nil(t, final.LockedBy)
	require.NotNil(t, final.LastError)

	runs, err := q.ListRuns(context.Background(), job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		require.Equal(t, queue.RunFail, r.Status)
	}
}

func TestPoolMissingHandler(t *testing.T) {
	t.Parallel()
	q := queue.New(testutil.NewTestDB(t))
	pool := worker.New(q, worker.NewRegistry(), testConfig())

	job, err := q.Enqueue(context.Background(), queue.EnqueueParams{
		Type: "no.such.type", Key: "nst:1", MaxAttempts: 1,
	})
	require.NoError(t, err)

	runPoolUntil(t, pool, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusDead
	})

	final, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, final.LastError)
	require.Contains(t, *final.LastError, `no handler registered for job type "no.such.type"`)
}

func TestPoolRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	q := queue.New(testutil.NewTestDB(t))
	reg := worker.NewRegistry()
	reg.Register("panicky", func(context.Context, *pgxpool.Pool, json.RawMessage) (any, error) {
		panic("boom")
	})
	pool := worker.New(q, reg, testConfig())

	job, err := q.Enqueue(context.Background(), queue.EnqueueParams{
		Type: "panicky", Key: "p:1", MaxAttempts: 1,
	})
	require.NoError(t, err)

	runPoolUntil(t, pool, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusDead
	})

	runs, err := q.ListRuns(context.Background(), job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Contains(t, *runs[0].ErrorMessage, "handler panic: boom")
	require.NotNil(t, runs[0].ErrorStack, "panics capture the goroutine stack")
}

func TestLocationUpsertDedupes(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	q := queue.New(db)
	pool := worker.New(q, worker.NewRegistry(), testConfig())
	ctx := context.Background()

	payload := json.RawMessage(`{"lat":43.25512,"lon":-79.87149}`)
	// Enqueue twice before any worker runs: the queue coalesces to one row.
	job, err := q.Enqueue(ctx, queue.EnqueueParams{Type: "location.upsert", Key: "location:test", Payload: payload})
	require.NoError(t, err)
	again, err := q.Enqueue(ctx, queue.EnqueueParams{Type: "location.upsert", Key: "location:test", Payload: payload})
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID)

	runPoolUntil(t, pool, func() bool {
		return jobStatus(t, q, job.ID) == queue.StatusSucceeded
	})

	var (
		count    int
		key      string
		lat, lon float64
	)
	require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM locations`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(ctx, `SELECT key, lat, lon FROM locations`).Scan(&key, &lat, &lon))
	require.Equal(t, "43.255,-79.871", key)
	require.Equal(t, 43.255, lat)
	require.Equal(t, -79.871, lon)

	runs, err := q.ListRuns(ctx, job.ID, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	var result worker.LocationResult
	require.NoError(t, json.Unmarshal([]byte(*runs[0].ResultSummary), &result))
	require.Equal(t, "43.255,-79.871", result.LocationKey)
	require.Positive(t, result.LocationID)
}

func TestLocationUpsertRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)

	_, err := worker.LocationUpsertHandler(context.Background(), db,
		json.RawMessage(`{"lat":91,"lon":0}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "lat out of range")

	_, err = worker.LocationUpsertHandler(context.Background(), db,
		json.RawMessage(`{"lat":0,"lon":-180.5}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "lon out of range")

	_, err = worker.LocationUpsertHandler(context.Background(), db,
		json.RawMessage(`{"lat":12.5}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "lat and lon are required")
}
