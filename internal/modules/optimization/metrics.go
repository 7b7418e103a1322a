package optimization

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes recorded in metrics.
const (
	outcomeOK           = "ok"
	outcomeNotConverged = "not_converged"
	outcomeInputError   = "input_error"
	outcomeSingular     = "singular"
	outcomeError        = "error"
)

var (
	optimizerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantfolio",
		Subsystem: "optimizer",
		Name:      "runs_total",
		Help:      "Optimization runs by method and outcome.",
	}, []string{"method", "outcome"})

	optimizerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quantfolio",
		Subsystem: "optimizer",
		Name:      "run_duration_seconds",
		Help:      "Wall time of optimization runs including estimation.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"method"})

	estimateCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantfolio",
		Subsystem: "estimator",
		Name:      "cache_lookups_total",
		Help:      "Estimate cache lookups by result.",
	}, []string{"result"})
)

func observeRun(method string, start time.Time, ok bool, err error) {
	optimizerDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	outcome := outcomeOK
	switch {
	case err != nil && IsSingular(err):
		outcome = outcomeSingular
	case err != nil && IsInputError(err):
		outcome = outcomeInputError
	case err != nil:
		outcome = outcomeError
	case !ok:
		outcome = outcomeNotConverged
	}
	optimizerRuns.WithLabelValues(method, outcome).Inc()
}
