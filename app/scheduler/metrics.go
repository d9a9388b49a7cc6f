package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_scheduler_ticks_total",
			Help: "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"},
	)

	phaseExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warmup_phase_execution_duration_seconds",
			Help:    "Executor wall time per warmup phase",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase", "result"},
	)

	phaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_phase_failures_total",
			Help: "Failed warmup phases by category",
		},
		[]string{"phase", "category", "escalated"},
	)

	recoveredPhases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_recovered_phases_total",
			Help: "Phases returned to available by maintenance sweeps",
		},
		[]string{"sweep"},
	)

	schedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warmup_scheduler_running",
			Help: "1 while the scheduler loop is running",
		},
	)
)
