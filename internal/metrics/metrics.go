// Package metrics exposes Prometheus collectors for decomposition runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ocvdecomp"

// Pair task outcomes.
const (
	PairOK      = "ok"
	PairTimeout = "timeout"
	PairError   = "error"
)

// Run outcomes.
const (
	RunCompleted = "completed"
	RunEmpty     = "empty"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Metrics groups the collectors updated by the search orchestrator.
type Metrics struct {
	ObjectiveEvaluations prometheus.Counter
	NonFiniteScores      prometheus.Counter
	PairDuration         prometheus.Histogram
	Pairs                *prometheus.CounterVec
	Runs                 *prometheus.CounterVec
	RunsInFlight         prometheus.Gauge
	BestScore            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil. Registration panics on duplicate collectors, as MustRegister does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObjectiveEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objective_evaluations_total",
			Help:      "Number of objective function evaluations.",
		}),
		NonFiniteScores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objective_non_finite_total",
			Help:      "Objective evaluations that produced NaN or Inf.",
		}),
		PairDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pair_optimization_seconds",
			Help:      "Wall time of one cathode/anode pair optimization.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_optimizations_total",
			Help:      "Pair optimizations by outcome.",
		}, []string{"status"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Decomposition runs by outcome.",
		}, []string{"status"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Decomposition runs currently executing.",
		}),
		BestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_best_score",
			Help:      "Lowest score of the most recently finished run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ObjectiveEvaluations,
			m.NonFiniteScores,
			m.PairDuration,
			m.Pairs,
			m.Runs,
			m.RunsInFlight,
			m.BestScore,
		)
	}
	return m
}

// ObserveEvaluation counts one objective evaluation with the given score.
func (m *Metrics) ObserveEvaluation(score float64) {
	if m == nil {
		return
	}
	m.ObjectiveEvaluations.Inc()
	if math.IsNaN(score) || math.IsInf(score, 0) {
		m.NonFiniteScores.Inc()
	}
}

// ObservePair records a finished pair optimization.
func (m *Metrics) ObservePair(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Pairs.WithLabelValues(status).Inc()
	m.PairDuration.Observe(elapsed.Seconds())
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

// RunFinished marks a run as done with the given outcome. best is recorded
// only for completed runs with a finite score.
func (m *Metrics) RunFinished(status string, best float64) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.Runs.WithLabelValues(status).Inc()
	if status == RunCompleted && !math.IsNaN(best) && !math.IsInf(best, 0) {
		m.BestScore.Set(best)
	}
}
