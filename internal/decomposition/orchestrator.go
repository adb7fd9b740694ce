// Package decomposition fits a measured full-cell OCV curve with the
// difference of a cathode and an anode half-cell curve. Run sweeps every
// candidate pair with a global optimizer, keeps the lowest score and
// reconstructs the winning curves for reporting.
package decomposition

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/curve"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
	"github.com/JonPisek/PyBEP/internal/metrics"
	"github.com/JonPisek/PyBEP/internal/optimization"
)

// Result is the outcome of Run.
type Result struct {
	// Best is the lowest-scoring pair over all iterations; nil when a
	// candidate set is empty.
	Best *PairResult
	// IterationBests holds the best pair of every iteration.
	IterationBests []PairResult
	// Results holds every pair result, iteration by iteration, in
	// enumeration order.
	Results []PairResult
	// Measured is the curve the scores refer to, after resampling.
	Measured curve.Measured
	// MeasuredSamples is the sample count of the caller's measured curve.
	MeasuredSamples int
	// Curves is nil when the best pair could not be reconstructed.
	Curves  *Reconstruction
	Stretch bool
	// Diagnostic explains an empty result or missing curves.
	Diagnostic error
}

// Run decomposes measured against every (cathode, anode) pair, Iterations
// times, and returns the best pair with its reconstructed curves.
//
// Pair tasks run concurrently; the reduction walks them in enumeration order
// (sorted cathode IDs, nested sorted anode IDs, iteration by iteration) and
// keeps the first of equal scores. Empty candidate sets and a winning ID
// missing from its set yield a Result with a Diagnostic instead of an error.
// Cancelling ctx aborts the run with the context error.
func Run(ctx context.Context, cathodes, anodes curve.CandidateSet, measured curve.Measured, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.logger()

	if len(cathodes) == 0 || len(anodes) == 0 {
		diag := apperrors.Wrapf(ErrEmptyCandidateSet, "%d cathode and %d anode candidates", len(cathodes), len(anodes)).
			WithComponent(component)
		logger.Warn("nothing to decompose", zap.Error(diag))
		opts.Metrics.RunStarted()
		opts.Metrics.RunFinished(metrics.RunEmpty, math.NaN())
		return &Result{Measured: measured, MeasuredSamples: measured.Len(), Stretch: opts.Stretch, Diagnostic: diag}, nil
	}

	samples := measured.Len()
	measured, err := prepareMeasured(measured, opts.gridPoints(), logger)
	if err != nil {
		return nil, err
	}
	t, err := newTarget(measured)
	if err != nil {
		return nil, err
	}

	r := &runner{
		opts:     opts,
		cathodes: cathodes,
		anodes:   anodes,
		target:   t,
		logger:   logger,
		optimize: opts.Optimizer,
	}
	if r.optimize == nil {
		r.optimize = EvolutionOptimizer(opts)
	}

	opts.Metrics.RunStarted()
	status, bestScore := metrics.RunFailed, math.NaN()
	defer func() { opts.Metrics.RunFinished(status, bestScore) }()

	start := time.Now()
	results, err := r.sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			status = metrics.RunCancelled
		}
		return nil, err
	}

	res := &Result{
		Results:         results,
		Measured:        measured,
		MeasuredSamples: samples,
		Stretch:         opts.Stretch,
	}
	perIter := len(cathodes) * len(anodes)
	for it := 0; it < opts.Iterations; it++ {
		best := reduce(results[it*perIter : (it+1)*perIter])
		res.IterationBests = append(res.IterationBests, best)
		logger.Info("iteration finished",
			zap.Int("iteration", it),
			zap.String("cathode", best.CathodeID),
			zap.String("anode", best.AnodeID),
			zap.Float64("score", best.Score))
	}
	best := reduce(res.IterationBests)
	res.Best = &best

	if best.TimedOut && !finite(best.Score) {
		res.Diagnostic = apperrors.Wrapf(ErrNoSearchResult, "best pair %s/%s timed out after %s",
			best.CathodeID, best.AnodeID, opts.PairTimeout).
			WithOperation("reconstruct").
			WithComponent(component)
	} else {
		res.Curves, res.Diagnostic = reconstructBest(best, cathodes, anodes, measured)
	}
	if res.Diagnostic != nil {
		logger.Warn("best pair not reconstructed", zap.Error(res.Diagnostic))
	}

	status, bestScore = metrics.RunCompleted, best.Score
	logger.Info("decomposition finished",
		zap.String("cathode", best.CathodeID),
		zap.String("anode", best.AnodeID),
		zap.Ints("window", best.Window.Indices()),
		zap.Float64("score", best.Score),
		zap.Int("measured_samples", samples),
		zap.Int("grid_points", measured.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// reduce returns the first result with the lowest score. NaN ranks last.
func reduce(results []PairResult) PairResult {
	best := results[0]
	for _, r := range results[1:] {
		if optimization.Better(r.Score, best.Score) {
			best = r
		}
	}
	return best
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func prepareMeasured(m curve.Measured, n int, logger *zap.Logger) (curve.Measured, error) {
	if m.Len() == n {
		return m, nil
	}
	logger.Warn("resampling measured curve onto the reconstruction grid",
		zap.Int("samples", m.Len()),
		zap.Int("grid_points", n))
	r, err := m.Resample(n)
	if err != nil {
		return curve.Measured{}, apperrors.Wrap(ErrInvalidMeasured, err.Error()).WithComponent(component)
	}
	return r, nil
}

func reconstructBest(best PairResult, cathodes, anodes curve.CandidateSet, measured curve.Measured) (*Reconstruction, error) {
	cathode, okC := cathodes.Get(best.CathodeID)
	anode, okA := anodes.Get(best.AnodeID)
	if !okC || !okA {
		return nil, apperrors.Wrapf(ErrCandidateNotFound, "best pair %s/%s", best.CathodeID, best.AnodeID).
			WithOperation("reconstruct").
			WithComponent(component)
	}
	return Reconstruct(best, cathode, anode, measured)
}

type runner struct {
	opts     Options
	cathodes curve.CandidateSet
	anodes   curve.CandidateSet
	target   *target
	logger   *zap.Logger
	optimize PairOptimizer
}

func (r *runner) workers(total int) int {
	n := r.opts.Workers
	if n == 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > total {
		n = total
	}
	return n
}

// sweep runs every pair task of every iteration on a bounded pool and
// returns the results in enumeration order.
func (r *runner) sweep(ctx context.Context) ([]PairResult, error) {
	cathodeIDs := r.cathodes.IDs()
	anodeIDs := r.anodes.IDs()
	perIter := len(cathodeIDs) * len(anodeIDs)
	total := perIter * r.opts.Iterations
	workers := r.workers(total)

	seed := r.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r.logger.Info("decomposition started",
		zap.Int("cathodes", len(cathodeIDs)),
		zap.Int("anodes", len(anodeIDs)),
		zap.Int("iterations", r.opts.Iterations),
		zap.Int("workers", workers),
		zap.Bool("stretch", r.opts.Stretch))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]PairResult, total)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	sem := make(chan struct{}, workers)

dispatch:
	for it := 0; it < r.opts.Iterations; it++ {
		for ci, cid := range cathodeIDs {
			for ai, aid := range anodeIDs {
				select {
				case sem <- struct{}{}:
				case <-runCtx.Done():
					break dispatch
				}

				slot := it*perIter + ci*len(anodeIDs) + ai
				cathode, anode := r.cathodes[cid], r.anodes[aid]
				task := PairTask{
					Iteration: it,
					Index:     ci*len(anodeIDs) + ai,
					Cathode:   cathode,
					Anode:     anode,
					Problem:   newProblem(cathode, anode, r.target, r.opts.Weights, r.opts.Stretch, r.opts.Metrics),
					Seed:      seed + int64(slot),
				}

				wg.Add(1)
				go func(slot int, task PairTask) {
					defer wg.Done()
					defer func() { <-sem }()

					res, err := r.runPair(runCtx, task)

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						if firstErr == nil {
							firstErr = err
							cancel()
						}
						return
					}
					results[slot] = *res
					done++
					if r.opts.Progress != nil {
						r.opts.Progress(done, total)
					}
				}(slot, task)
			}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, "decomposition cancelled").WithComponent(component)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// runPair optimizes one pair. A pair that hits PairTimeout keeps its best
// result so far, or scores +Inf when it has none.
func (r *runner) runPair(ctx context.Context, task PairTask) (*PairResult, error) {
	taskCtx := ctx
	if r.opts.PairTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, r.opts.PairTimeout)
		defer cancel()
	}

	log := r.logger.With(
		zap.String("cathode", task.Cathode.ID()),
		zap.String("anode", task.Anode.ID()),
		zap.Int("iteration", task.Iteration),
		zap.Int("pair", task.Index))

	start := time.Now()
	res, err := r.optimize(taskCtx, task)
	elapsed := time.Since(start)

	if n := task.Problem.NonFinite(); n > 0 {
		log.Debug("non-finite objective values",
			zap.Int64("count", n),
			zap.Int64("evaluations", task.Problem.Evaluations()))
	}

	switch {
	case err == nil:
	case ctx.Err() == nil && apperrors.Is(err, context.DeadlineExceeded):
		r.opts.Metrics.ObservePair(metrics.PairTimeout, elapsed)
		if res == nil {
			res = unsearchedResult(task)
		}
		res.TimedOut = true
		log.Warn("pair optimization timed out",
			zap.Duration("timeout", r.opts.PairTimeout),
			zap.Float64("score", res.Score))
		return res, nil
	default:
		r.opts.Metrics.ObservePair(metrics.PairError, elapsed)
		return nil, apperrors.Wrapf(err, "optimize pair %s/%s", task.Cathode.ID(), task.Anode.ID()).
			WithOperation("optimize_pair").
			WithComponent(component)
	}

	if res == nil {
		r.opts.Metrics.ObservePair(metrics.PairError, elapsed)
		return nil, apperrors.Errorf("optimizer returned no result for %s/%s", task.Cathode.ID(), task.Anode.ID()).
			WithKind(apperrors.KindInternal).
			WithComponent(component)
	}

	r.opts.Metrics.ObservePair(metrics.PairOK, elapsed)
	log.Debug("pair optimized",
		zap.Float64("score", res.Score),
		zap.Ints("window", res.Window.Indices()),
		zap.Int("evaluations", res.Evaluations),
		zap.Bool("converged", res.Converged),
		zap.Duration("elapsed", elapsed))
	return res, nil
}
