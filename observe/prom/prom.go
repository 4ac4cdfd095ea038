// Package prom exports corun lifecycle metrics through Prometheus
// collectors: job and scope counters, suspension activity and duration
// histograms.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NetPo4ki/go-corun/corun"
)

// Observer implements corun.Observer on top of Prometheus collectors.
type Observer struct {
	scopesCreated   prometheus.Counter
	scopesCancelled prometheus.Counter
	joinWait        prometheus.Histogram
	jobsLaunched    prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	suspensions     prometheus.Counter
	resumptions     prometheus.Counter
}

// New registers the collectors with reg and returns the observer.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		scopesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "corun_scopes_created_total",
			Help: "Scopes created.",
		}),
		scopesCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "corun_scopes_cancelled_total",
			Help: "Scopes cancelled.",
		}),
		joinWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corun_scope_join_wait_seconds",
			Help:    "Time spent waiting in AwaitAll.",
			Buckets: prometheus.DefBuckets,
		}),
		jobsLaunched: f.NewCounter(prometheus.CounterOpts{
			Name: "corun_jobs_launched_total",
			Help: "Jobs launched.",
		}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corun_jobs_finished_total",
			Help: "Jobs finished, by terminal state.",
		}, []string{"state"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corun_job_duration_seconds",
			Help:    "Job lifetime from start to terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
		suspensions: f.NewCounter(prometheus.CounterOpts{
			Name: "corun_task_suspensions_total",
			Help: "Task suspensions.",
		}),
		resumptions: f.NewCounter(prometheus.CounterOpts{
			Name: "corun_task_resumptions_total",
			Help: "Task resumptions.",
		}),
	}
}

func (o *Observer) ScopeCreated(context.Context) { o.scopesCreated.Inc() }

func (o *Observer) ScopeCancelled(context.Context, error) { o.scopesCancelled.Inc() }

func (o *Observer) ScopeJoined(_ context.Context, wait time.Duration) {
	o.joinWait.Observe(wait.Seconds())
}

func (o *Observer) JobLaunched(context.Context) { o.jobsLaunched.Inc() }

func (o *Observer) JobFinished(_ context.Context, dur time.Duration, state corun.State, _ error) {
	o.jobsFinished.WithLabelValues(state.String()).Inc()
	o.jobDuration.Observe(dur.Seconds())
}

func (o *Observer) TaskSuspended(context.Context) { o.suspensions.Inc() }

func (o *Observer) TaskResumed(context.Context) { o.resumptions.Inc() }
