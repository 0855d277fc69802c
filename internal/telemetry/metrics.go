// Package telemetry holds the prometheus instruments for the job queue.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Jobs inserted or coalesced by enqueue"})
	JobsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_claimed_total", Help: "Successful claims across all workers in this process"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_succeeded_total", Help: "Jobs completed successfully"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Failed jobs scheduled for retry with backoff"})
	JobsDead         = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_dead_total", Help: "Jobs moved to the dead-letter state"})
	JobsReclaimed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_reclaimed_total", Help: "Stale running jobs reclaimed after lease expiry"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "enqueue_rate_limit_rejects_total", Help: "Enqueue requests rejected by the per-IP rate limiter"})
	JobsInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Handlers currently executing in this process"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsClaimed,
			JobsSucceeded,
			JobsRetried,
			JobsDead,
			JobsReclaimed,
			RateLimitRejects,
			JobsInFlight,
		)
	})
	return promhttp.Handler()
}
