package decomposition

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/curve"
	"github.com/JonPisek/PyBEP/internal/optimization"
	"github.com/JonPisek/PyBEP/internal/optimization/evolution"
)

// PairTask is one (iteration, cathode, anode) unit of work.
type PairTask struct {
	Iteration int
	// Index is the position of the pair in the enumeration of one iteration:
	// cathode IDs in sorted order, anode IDs nested in sorted order.
	Index   int
	Cathode *curve.Curve
	Anode   *curve.Curve
	Problem *Problem
	Seed    int64
}

// PairResult is the outcome of one pair optimization.
type PairResult struct {
	CathodeID   string  `json:"cathode_id"`
	AnodeID     string  `json:"anode_id"`
	Iteration   int     `json:"iteration"`
	Params      Params  `json:"params"`
	Window      Window  `json:"window"`
	Score       float64 `json:"score"`
	Evaluations int     `json:"evaluations"`
	Converged   bool    `json:"converged"`
	TimedOut    bool    `json:"timed_out,omitempty"`
}

// PairOptimizer minimizes task.Problem. When ctx ends early it returns the
// best result found so far, if any, together with the context error.
type PairOptimizer func(ctx context.Context, task PairTask) (*PairResult, error)

// NewPairResult builds the result for the optimizer vector x with score.
func NewPairResult(task PairTask, x []float64, score float64) *PairResult {
	params := ParamsFromVector(x, task.Problem.Stretch())
	return &PairResult{
		CathodeID: task.Cathode.ID(),
		AnodeID:   task.Anode.ID(),
		Iteration: task.Iteration,
		Params:    params,
		Window:    ComputeWindow(params, task.Anode.Len(), task.Cathode.Len()),
		Score:     score,
	}
}

// unsearchedResult stands in for a pair that ended before its first
// evaluation: the untrimmed window at unit stretch, scored +Inf.
func unsearchedResult(task PairTask) *PairResult {
	x := Params{AnodeStretch: 1, CathodeStretch: 1}.Vector(task.Problem.Stretch())
	return NewPairResult(task, x, math.Inf(1))
}

// EvolutionOptimizer returns the default PairOptimizer: differential
// evolution over Bounds with the tuning of opts.
func EvolutionOptimizer(opts Options) PairOptimizer {
	logger := opts.logger()
	return func(ctx context.Context, task PairTask) (*PairResult, error) {
		cfg := optimization.OptimizerConfig{
			Objective:      task.Problem.Objective(),
			Bounds:         Bounds(task.Problem.Stretch()),
			MaxIterations:  opts.MaxGenerations,
			PopulationSize: opts.PopulationSize,
			Tolerance:      opts.Tolerance,
			Polish:         opts.Polish,
			RandomSeed:     task.Seed,
		}
		de := evolution.NewDifferentialEvolution(cfg, evolution.WithLogger(logger.With(
			zap.String("cathode", task.Cathode.ID()),
			zap.String("anode", task.Anode.ID()),
			zap.Int("iteration", task.Iteration),
			zap.Int("pair", task.Index),
		)))

		res, err := de.Optimize(ctx, cfg)
		if res == nil || res.BestSolution == nil {
			return nil, err
		}
		pr := NewPairResult(task, res.BestSolution.Parameters, res.BestSolution.Value)
		pr.Evaluations = res.Evaluations
		pr.Converged = res.Converged
		return pr, err
	}
}
