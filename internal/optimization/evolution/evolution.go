// Package evolution implements a bounded differential evolution minimizer
// with a best/1/bin strategy, dithered mutation and an optional Nelder-Mead
// polish of the final best member.
package evolution

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/JonPisek/PyBEP/internal/optimization"
)

// Defaults applied to zero-valued configuration fields.
const (
	DefaultMaxIterations  = 1000
	DefaultPopulationSize = 15
	DefaultMutationMin    = 0.5
	DefaultMutationMax    = 1.0
	DefaultCrossoverRate  = 0.7
	DefaultTolerance      = 0.01

	minPopulation = 5
)

// Option configures a DifferentialEvolution.
type Option func(*DifferentialEvolution)

// WithLogger sets the logger used for progress messages.
func WithLogger(logger *zap.Logger) Option {
	return func(de *DifferentialEvolution) {
		if logger != nil {
			de.logger = logger
		}
	}
}

// DifferentialEvolution implements optimization.Optimizer.
type DifferentialEvolution struct {
	config optimization.OptimizerConfig
	rng    *rand.Rand
	logger *zap.Logger

	mu           sync.Mutex
	bestSolution *optimization.Solution
	history      []optimization.Evaluation
	cancel       context.CancelFunc
}

var _ optimization.Optimizer = (*DifferentialEvolution)(nil)

// NewDifferentialEvolution creates an optimizer for config. Zero-valued
// tuning fields take the package defaults.
func NewDifferentialEvolution(config optimization.OptimizerConfig, opts ...Option) *DifferentialEvolution {
	de := &DifferentialEvolution{
		config: withDefaults(config),
		logger: zap.NewNop(),
	}
	de.rng = newRand(de.config.RandomSeed)
	for _, opt := range opts {
		opt(de)
	}
	return de
}

func withDefaults(c optimization.OptimizerConfig) optimization.OptimizerConfig {
	if c.MaxIterations < 1 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.PopulationSize < 1 {
		c.PopulationSize = DefaultPopulationSize
	}
	if c.MutationMin == 0 && c.MutationMax == 0 {
		c.MutationMin, c.MutationMax = DefaultMutationMin, DefaultMutationMax
	}
	if c.CrossoverRate == 0 {
		c.CrossoverRate = DefaultCrossoverRate
	}
	if c.Tolerance == 0 && c.AbsTolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
	return c
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Optimize runs the search. When config carries an objective it replaces the
// configuration given at construction.
//
// If ctx is cancelled or Stop is called, Optimize returns the best solution
// evaluated so far together with the context error. The result is nil only
// when nothing was evaluated.
func (de *DifferentialEvolution) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if config.Objective != nil {
		seed := de.config.RandomSeed
		de.config = withDefaults(config)
		if de.config.RandomSeed != seed {
			de.rng = newRand(de.config.RandomSeed)
		}
	}
	if err := de.config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	de.mu.Lock()
	de.cancel = cancel
	de.bestSolution = nil
	de.history = nil
	de.mu.Unlock()
	defer cancel()

	cfg := de.config
	dim := len(cfg.Bounds)
	npop := cfg.PopulationSize * dim
	if npop < minPopulation {
		npop = minPopulation
	}

	s := &search{de: de, cfg: cfg, energies: make([]float64, npop)}

	// Initial population
	s.population = de.latinHypercubeSample(npop)
	for i, x := range s.population {
		if err := ctx.Err(); err != nil {
			return s.partial(0, err)
		}
		e, err := s.evaluate(x)
		if err != nil {
			return nil, err
		}
		s.energies[i] = e
		if i == 0 || optimization.Better(e, s.energies[s.best]) {
			s.best = i
		}
	}
	de.publishBest(s.population[s.best], s.energies[s.best])

	trial := make([]float64, dim)
	converged := s.converged()
	gen := 0
	for !converged && gen < cfg.MaxIterations {
		gen++
		f := cfg.MutationMin
		if cfg.MutationMax > cfg.MutationMin {
			f += de.rng.Float64() * (cfg.MutationMax - cfg.MutationMin)
		}

		for i := range s.population {
			if err := ctx.Err(); err != nil {
				return s.partial(gen, err)
			}
			s.mutate(trial, i, f)
			e, err := s.evaluate(trial)
			if err != nil {
				return nil, err
			}
			if optimization.Better(e, s.energies[i]) {
				copy(s.population[i], trial)
				s.energies[i] = e
				if optimization.Better(e, s.energies[s.best]) {
					s.best = i
					de.publishBest(s.population[i], e)
				}
			}
		}

		if cfg.RecordHistory {
			de.record(gen, s.population[s.best], s.energies[s.best])
		}
		converged = s.converged()
	}

	if converged {
		de.logger.Debug("population converged",
			zap.Int("generation", gen),
			zap.Float64("best", s.energies[s.best]))
	}

	if cfg.Polish && isFinite(s.energies[s.best]) {
		if err := s.polish(ctx); err != nil {
			return nil, err
		}
	}

	return &optimization.OptimizationResult{
		BestSolution: de.GetBestSolution(),
		History:      de.GetHistory(),
		Iterations:   gen,
		Evaluations:  s.evaluations,
		Converged:    converged,
	}, nil
}

// GetBestSolution returns a copy of the best solution found so far.
func (de *DifferentialEvolution) GetBestSolution() *optimization.Solution {
	de.mu.Lock()
	defer de.mu.Unlock()
	if de.bestSolution == nil {
		return nil
	}
	return &optimization.Solution{
		Parameters: append([]float64(nil), de.bestSolution.Parameters...),
		Value:      de.bestSolution.Value,
	}
}

// GetHistory returns the per-generation best solutions when history is
// recorded.
func (de *DifferentialEvolution) GetHistory() []optimization.Evaluation {
	de.mu.Lock()
	defer de.mu.Unlock()
	return append([]optimization.Evaluation(nil), de.history...)
}

// Stop stops the optimization process
func (de *DifferentialEvolution) Stop() {
	de.mu.Lock()
	defer de.mu.Unlock()
	if de.cancel != nil {
		de.cancel()
	}
}

func (de *DifferentialEvolution) publishBest(params []float64, value float64) {
	de.mu.Lock()
	de.bestSolution = &optimization.Solution{
		Parameters: append([]float64(nil), params...),
		Value:      value,
	}
	de.mu.Unlock()
}

func (de *DifferentialEvolution) record(gen int, params []float64, value float64) {
	de.mu.Lock()
	de.history = append(de.history, optimization.Evaluation{
		Iteration: gen,
		Solution: &optimization.Solution{
			Parameters: append([]float64(nil), params...),
			Value:      value,
		},
	})
	de.mu.Unlock()
}

// latinHypercubeSample draws n points with exactly one point in each of the n
// equal-width strata of every dimension.
func (de *DifferentialEvolution) latinHypercubeSample(n int) [][]float64 {
	nDims := len(de.config.Bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i := 0; i < nDims; i++ {
		for j := range strata {
			strata[j] = (float64(j) + de.rng.Float64()) / float64(n)
		}
		de.rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})

		lo, hi := de.config.Bounds[i][0], de.config.Bounds[i][1]
		for j := range samples {
			samples[j][i] = lo + strata[j]*(hi-lo)
		}
	}
	return samples
}

// search holds the state of a single Optimize call.
type search struct {
	de          *DifferentialEvolution
	cfg         optimization.OptimizerConfig
	population  [][]float64
	energies    []float64
	best        int
	evaluations int
}

func (s *search) evaluate(x []float64) (float64, error) {
	s.evaluations++
	v, err := s.cfg.Objective(x)
	if err != nil {
		return 0, optimization.WrapError(err, "error evaluating objective function")
	}
	return v, nil
}

// mutate writes the best/1/bin trial vector for member i into trial.
// Coordinates leaving the bounds are redrawn uniformly inside them.
func (s *search) mutate(trial []float64, i int, f float64) {
	rng := s.de.rng
	n := len(s.population)
	r1, r2 := s.pickTwo(i, n)

	best := s.population[s.best]
	a, b := s.population[r1], s.population[r2]
	target := s.population[i]

	dim := len(trial)
	fill := rng.Intn(dim)
	for j := 0; j < dim; j++ {
		if j == fill || rng.Float64() < s.cfg.CrossoverRate {
			trial[j] = best[j] + f*(a[j]-b[j])
		} else {
			trial[j] = target[j]
		}
		lo, hi := s.cfg.Bounds[j][0], s.cfg.Bounds[j][1]
		if trial[j] < lo || trial[j] > hi {
			trial[j] = lo + rng.Float64()*(hi-lo)
		}
	}
}

// pickTwo returns two distinct indices in [0, n) that differ from i.
func (s *search) pickTwo(i, n int) (int, int) {
	rng := s.de.rng
	r1 := rng.Intn(n - 1)
	if r1 >= i {
		r1++
	}
	r2 := rng.Intn(n - 2)
	lo, hi := i, r1
	if lo > hi {
		lo, hi = hi, lo
	}
	if r2 >= lo {
		r2++
	}
	if r2 >= hi {
		r2++
	}
	return r1, r2
}

// converged reports whether the population energies have collapsed. Any
// non-finite energy keeps the search going.
func (s *search) converged() bool {
	for _, e := range s.energies {
		if !isFinite(e) {
			return false
		}
	}
	mean, std := stat.MeanStdDev(s.energies, nil)
	return std <= s.cfg.AbsTolerance+s.cfg.Tolerance*math.Abs(mean)
}

func (s *search) partial(gen int, err error) (*optimization.OptimizationResult, error) {
	best := s.de.GetBestSolution()
	if best == nil {
		return nil, err
	}
	return &optimization.OptimizationResult{
		BestSolution: best,
		History:      s.de.GetHistory(),
		Iterations:   gen,
		Evaluations:  s.evaluations,
	}, err
}

// polish runs a bounded Nelder-Mead search from the best member and keeps
// the result only if it improves on it.
func (s *search) polish(ctx context.Context) error {
	start := append([]float64(nil), s.population[s.best]...)
	startValue := s.energies[s.best]
	dim := len(start)
	buf := make([]float64, dim)
	var evalErr error

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			copy(buf, x)
			optimization.Clamp(buf, s.cfg.Bounds)
			v, err := s.evaluate(buf)
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			if math.IsNaN(v) {
				return math.Inf(1)
			}
			return v
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: 200 * dim,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 50,
		},
	}

	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: 0.05,
	}

	result, err := optimize.Minimize(problem, start, settings, method)
	if evalErr != nil {
		return evalErr
	}
	if result == nil {
		s.de.logger.Debug("polish skipped", zap.Error(err))
		return nil
	}

	x := optimization.Clamp(append([]float64(nil), result.X...), s.cfg.Bounds)
	v, evErr := s.evaluate(x)
	if evErr != nil {
		return evErr
	}
	if optimization.Better(v, startValue) {
		copy(s.population[s.best], x)
		s.energies[s.best] = v
		s.de.publishBest(x, v)
		s.de.logger.Debug("polish improved best",
			zap.Float64("before", startValue),
			zap.Float64("after", v))
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
