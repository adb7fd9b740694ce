package optimization

import (
	"context"
	"math"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max]
	Bounds [][2]float64

	// Maximum number of generations
	MaxIterations int

	// Population size as a multiple of the number of dimensions
	PopulationSize int

	// Mutation factor is drawn uniformly from [MutationMin, MutationMax)
	// once per generation (dithering). Equal values disable dithering.
	MutationMin float64
	MutationMax float64

	// Crossover probability in [0, 1]
	CrossoverRate float64

	// Relative and absolute tolerance on the spread of population values.
	// The search stops once stddev <= AbsTolerance + Tolerance*|mean|.
	Tolerance    float64
	AbsTolerance float64

	// Polish refines the best member with a local derivative-free search.
	Polish bool

	// Random seed for reproducibility; 0 seeds from the clock
	RandomSeed int64

	// RecordHistory keeps the best solution of every generation
	RecordHistory bool
}

// ObjectiveFunction defines the function to be optimized. An error aborts the
// search; NaN and +Inf values are accepted and rank worst.
type ObjectiveFunction func([]float64) (float64, error)

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single evaluation of the objective function
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Error     error
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Evaluations  int
	Converged    bool
}

// Validate checks that the configuration describes a solvable problem.
func (c OptimizerConfig) Validate() error {
	if c.Objective == nil {
		return ErrNoObjective
	}
	if len(c.Bounds) == 0 {
		return ErrNoBounds
	}
	for i, b := range c.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) || b[0] > b[1] {
			return NewErrorf("bound %d is invalid: [%v, %v]", i, b[0], b[1]).
				WithOperation("validate").
				WithComponent("optimizer")
		}
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return NewErrorf("crossover rate %v outside [0, 1]", c.CrossoverRate).
			WithOperation("validate").
			WithComponent("optimizer")
	}
	if c.MutationMin < 0 || c.MutationMax < c.MutationMin {
		return NewErrorf("mutation range [%v, %v] is invalid", c.MutationMin, c.MutationMax).
			WithOperation("validate").
			WithComponent("optimizer")
	}
	return nil
}

// Better reports whether a ranks strictly before b when minimizing. NaN ranks
// after every number, including +Inf.
func Better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

// Clamp projects x onto the box described by bounds in place.
func Clamp(x []float64, bounds [][2]float64) []float64 {
	for i := range x {
		x[i] = math.Max(bounds[i][0], math.Min(x[i], bounds[i][1]))
	}
	return x
}
