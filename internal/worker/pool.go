// ABOUTME: Worker pool: batches of parallel claim attempts, handler dispatch,
// ABOUTME: outcome reporting, and the periodic stale-lease reclaim ticker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/queue"
	"github.com/nickskupien/sunset-sunrise-predictor/internal/telemetry"
)

// reclaimInterval is how often each worker process runs the stale-lease
// reclaim, independent of the lease length itself.
const reclaimInterval = 30 * time.Second

// Config holds per-process worker tuning. Zero values are not defaulted here;
// internal/config validates and fills them.
type Config struct {
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	LeaseSeconds int
}

// Pool repeatedly launches batches of parallel claim attempts against the
// queue engine. Each claimed job is executed via the registry and reported
// back through Success or Failure. Claims from parallel tasks never collide —
// SKIP LOCKED in the engine hands each task a distinct row.
type Pool struct {
	queue    *queue.Queue
	registry *Registry
	cfg      Config
}

// New creates a Pool claiming as cfg.WorkerID.
func New(q *queue.Queue, r *Registry, cfg Config) *Pool {
	return &Pool{queue: q, registry: r, cfg: cfg}
}

// Start runs the pool until ctx is cancelled, finishing the in-flight batch
// before returning. It returns nil on clean shutdown and the engine error on
// a fatal loop failure (e.g. a malformed row from claim).
func (p *Pool) Start(ctx context.Context) error {
	slog.Info("worker pool started",
		"worker_id", p.cfg.WorkerID,
		"concurrency", p.cfg.Concurrency,
		"poll_ms", p.cfg.PollInterval.Milliseconds(),
		"lease_seconds", p.cfg.LeaseSeconds)

	reclaimDone := make(chan struct{})
	go func() {
		defer close(reclaimDone)
		p.runReclaim(ctx)
	}()

	var loopErr error
	for loopErr == nil && ctx.Err() == nil {
		claimed, err := p.runBatch(ctx)
		if err != nil {
			loopErr = err
			break
		}
		if !claimed {
			// Idle: back off before the next batch. time.NewTimer (not
			// time.After) so the timer is released on shutdown.
			timer := time.NewTimer(p.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	<-reclaimDone
	if loopErr != nil {
		slog.Error("worker pool fatal error", "worker_id", p.cfg.WorkerID, "error", loopErr)
		return loopErr
	}
	slog.Info("worker pool stopped", "worker_id", p.cfg.WorkerID)
	return nil
}

// runBatch launches Concurrency parallel claim attempts and waits for all of
// them. It reports whether any task obtained a claim, and the first fatal
// error encountered.
func (p *Pool) runBatch(ctx context.Context) (bool, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed bool
		fatal   error
	)
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.runOne(ctx)
			mu.Lock()
			defer mu.Unlock()
			claimed = claimed || got
			if err != nil && fatal == nil {
				fatal = err
			}
		}()
	}
	wg.Wait()
	return claimed, fatal
}

// runOne claims at most one job and executes it. Transient claim errors are
// logged and absorbed — the worker retries at the next poll tick. Only
// ErrInternal (malformed row) is returned as fatal.
func (p *Pool) runOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx, p.cfg.WorkerID)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return false, nil
		case errors.Is(err, queue.ErrInternal):
			return false, err
		case errors.Is(err, queue.ErrTransient):
			slog.Warn("claim contention, retrying next tick", "error", err)
			return false, nil
		default:
			slog.Error("claim error", "error", err)
			return false, nil
		}
	}
	if job == nil {
		return false, nil
	}
	p.execute(ctx, job)
	return true, nil
}

// execute dispatches a claimed job to its handler and reports the outcome.
// Every handler error — including panics — routes through Failure; only
// engine errors escape to the log.
func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	started := time.Now()
	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	slog.Info("executing job",
		"job_id", job.ID, "type", job.Type, "key", job.Key, "attempt", job.Attempts)

	h := p.registry.Get(job.Type)
	if h == nil {
		err := fmt.Errorf("no handler registered for job type %q", job.Type)
		p.reportFailure(ctx, job, started, err, "")
		return
	}

	result, stack, err := p.invoke(ctx, h, job.Payload)
	if err != nil {
		p.reportFailure(ctx, job, started, err, stack)
		return
	}

	summary, err := json.Marshal(result)
	if err != nil {
		p.reportFailure(ctx, job, started, fmt.Errorf("marshal handler result: %w", err), "")
		return
	}
	if err := p.queue.Success(ctx, job, started, string(summary)); err != nil {
		slog.Error("report success", "job_id", job.ID, "error", err)
		return
	}
	slog.Info("job succeeded",
		"job_id", job.ID, "type", job.Type, "duration_ms", time.Since(started).Milliseconds())
}

// invoke runs the handler, converting a panic into an error with the
// goroutine stack attached.
func (p *Pool) invoke(ctx context.Context, h Handler, payload json.RawMessage) (result any, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = h(ctx, p.queue.Pool(), payload)
	return result, "", err
}

func (p *Pool) reportFailure(ctx context.Context, job *queue.Job, started time.Time, jobErr error, stack string) {
	slog.Warn("job failed",
		"job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "error", jobErr)
	if err := p.queue.Failure(ctx, job, started, jobErr, stack); err != nil {
		slog.Error("report failure", "job_id", job.ID, "error", err)
	}
}

// runReclaim invokes the stale-lease reclaim every reclaimInterval until ctx
// is cancelled.
func (p *Pool) runReclaim(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimStale(ctx, p.cfg.LeaseSeconds)
			if err != nil {
				slog.Error("stale lease reclaim", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed stale jobs", "count", n, "lease_seconds", p.cfg.LeaseSeconds)
			}
		}
	}
}
