package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitelift",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Jobs handled by the worker, by kind and outcome.",
	}, []string{"kind", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitelift",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Wall clock time spent handling a job.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	pushAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitelift",
		Subsystem: "worker",
		Name:      "push_attempts_total",
		Help:      "Individual push attempts against the GitHub API.",
	})
)
