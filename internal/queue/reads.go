// ABOUTME: Read-side ops queries: list jobs, get job, list runs.
// ABOUTME: Limits are clamped to [1, 200] with a default of 50.
package queue

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// clampLimit applies the [1, 200] bound, defaulting to 50 when unset.
func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultListLimit
	case limit < 1:
		return 1
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// ListJobs returns jobs ordered by newest updated_at first, optionally
// filtered by status.
func (q *Queue) ListJobs(ctx context.Context, status *Status, limit int) ([]Job, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *status)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select(jobCols).
		From("job_queue").
		OrderBy("updated_at DESC, id DESC").
		Limit(uint64(clampLimit(limit))) //nolint:gosec // G115: limit clamped above
	if status != nil {
		sb = sb.Where(sq.Eq{"status": string(*status)})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", classify(err))
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", classify(err))
	}
	return jobs, nil
}

const getJobSQL = `SELECT` + jobCols + ` FROM job_queue WHERE id = $1`

// GetJob returns the job with the given id, or (nil, nil) when it does not
// exist.
func (q *Queue) GetJob(ctx context.Context, id int64) (*Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, getJobSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %d: %w", id, classify(err))
	}
	return job, nil
}

const listRunsSQL = `
SELECT id, job_id, type, key, attempt, status,
       (extract(epoch FROM started_at) * 1000)::bigint,
       (extract(epoch FROM finished_at) * 1000)::bigint,
       duration_ms, error_message, error_stack, result_summary
FROM job_runs
WHERE job_id = $1
ORDER BY attempt DESC, id DESC
LIMIT $2`

// ListRuns returns the attempt history for a job, most recent attempt first.
func (q *Queue) ListRuns(ctx context.Context, jobID int64, limit int) ([]JobRun, error) {
	rows, err := q.pool.Query(ctx, listRunsSQL, jobID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs for job %d: %w", jobID, classify(err))
	}
	defer rows.Close()

	runs := []JobRun{}
	for rows.Next() {
		var r JobRun
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.Type, &r.Key, &r.Attempt, &r.Status,
			&r.StartedAt, &r.FinishedAt,
			&r.DurationMs, &r.ErrorMessage, &r.ErrorStack, &r.ResultSummary,
		); err != nil {
			return nil, fmt.Errorf("list runs for job %d: %w", jobID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs for job %d: %w", jobID, classify(err))
	}
	return runs, nil
}
