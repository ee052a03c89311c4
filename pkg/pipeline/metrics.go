package pipeline

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/eastgenomics/configci/pkg/metrics"
)

var (
	// Most steps take seconds; polling takes hours.
	stepDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "configci",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Duration of each step of a config check run, in seconds.",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
	}, []string{metrics.LabelStep, metrics.LabelSuccess})

	runsTotal = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "configci",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Count of config check runs, by the state they ended in.",
	}, []string{metrics.LabelState})
)
