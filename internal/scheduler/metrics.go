package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "task_failures_total",
		Help:      "Failed scheduled task cycles.",
	}, []string{"task"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Scheduled task cycle duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})
)
