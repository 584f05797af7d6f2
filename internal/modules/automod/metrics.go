package automod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	violationsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "automod",
		Name:      "violations_total",
		Help:      "Violations detected, by type.",
	}, []string{"type"})

	enforcementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "automod",
		Name:      "enforcement_failures_total",
		Help:      "Enforcement sub-steps that failed, by step.",
	}, []string{"step"})

	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "automod",
		Name:      "escalations_total",
		Help:      "Automatic escalations executed, by action.",
	}, []string{"action"})
)
