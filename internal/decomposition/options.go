package decomposition

import (
	"time"

	"go.uber.org/zap"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
	"github.com/JonPisek/PyBEP/internal/metrics"
	"github.com/JonPisek/PyBEP/internal/optimization/evolution"
)

// DefaultGridPoints is the length of every resampled curve.
const DefaultGridPoints = 1001

// Options configures a search.
type Options struct {
	// Iterations is the number of independent sweeps over all pairs.
	Iterations int
	// Workers bounds the number of concurrent pair optimizations.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int
	Weights Weights
	// Stretch adds the two stretch factors to the search.
	Stretch bool
	// GridPoints is the resampling length. A measured curve of another
	// length is resampled onto it.
	GridPoints int

	// Differential evolution tuning, see evolution.Default*.
	PopulationSize int
	MaxGenerations int
	Tolerance      float64
	Polish         bool
	// Seed derives a distinct seed for every pair task. Zero seeds from
	// the clock.
	Seed int64

	// PairTimeout bounds one pair optimization; the best result found
	// before the deadline is kept. Zero disables the limit.
	PairTimeout time.Duration

	// Progress, when set, is called after every finished pair task. Calls
	// are serialized.
	Progress func(done, total int)

	// Optimizer replaces the differential evolution pair optimizer.
	Optimizer PairOptimizer

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the options of a single sweep fitting the
// full-cell curve with the four-parameter search.
func DefaultOptions() Options {
	return Options{
		Iterations:     1,
		Weights:        DefaultWeights(),
		GridPoints:     DefaultGridPoints,
		PopulationSize: evolution.DefaultPopulationSize,
		MaxGenerations: evolution.DefaultMaxIterations,
		Tolerance:      evolution.DefaultTolerance,
		Polish:         true,
	}
}

// Validate checks the options that have no usable zero value.
func (o Options) Validate() error {
	if o.Iterations < 1 {
		return apperrors.Wrapf(ErrInvalidOptions, "iterations must be positive, got %d", o.Iterations).
			WithComponent(component)
	}
	if o.GridPoints != 0 && o.GridPoints < 4 {
		return apperrors.Wrapf(ErrInvalidOptions, "grid points must be at least 4, got %d", o.GridPoints).
			WithComponent(component)
	}
	if o.Workers < 0 || o.PairTimeout < 0 {
		return apperrors.Wrap(ErrInvalidOptions, "workers and pair timeout must not be negative").
			WithComponent(component)
	}
	return o.Weights.Validate()
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) gridPoints() int {
	if o.GridPoints == 0 {
		return DefaultGridPoints
	}
	return o.GridPoints
}
