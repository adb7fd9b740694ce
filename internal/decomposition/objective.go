package decomposition

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"github.com/JonPisek/PyBEP/internal/curve"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
	"github.com/JonPisek/PyBEP/internal/metrics"
	"github.com/JonPisek/PyBEP/internal/optimization"
)

// target is the measured curve together with its inverse derivative. It is
// read-only and shared by every pair of a run.
type target struct {
	soc, ocv   []float64
	invDeriv   []float64
	gridPoints int
}

func newTarget(m curve.Measured) (*target, error) {
	if m.Len() < curve.MinPoints || len(m.OCV) != m.Len() {
		return nil, apperrors.Wrapf(ErrInvalidMeasured, "%d samples, at least %d required", m.Len(), curve.MinPoints).
			WithComponent(component)
	}
	return &target{
		soc:        m.SOC,
		ocv:        m.OCV,
		invDeriv:   curve.InverseDerivative(m.OCV, m.SOC),
		gridPoints: m.Len(),
	}, nil
}

// Problem is the objective for one cathode/anode pair. Both electrode
// windows are resampled onto as many points as the measured curve has and
// compared with it position by position.
//
// A Problem is used by one optimizer at a time; its counters are safe to
// read concurrently.
type Problem struct {
	cathode, anode *curve.Curve
	target         *target
	weights        Weights
	stretch        bool
	metrics        *metrics.Metrics

	evaluations atomic.Int64
	nonFinite   atomic.Int64
}

// NewProblem builds the objective for one pair against the measured curve.
func NewProblem(cathode, anode *curve.Curve, measured curve.Measured, weights Weights, stretch bool) (*Problem, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	t, err := newTarget(measured)
	if err != nil {
		return nil, err
	}
	return newProblem(cathode, anode, t, weights, stretch, nil), nil
}

func newProblem(cathode, anode *curve.Curve, t *target, weights Weights, stretch bool, m *metrics.Metrics) *Problem {
	return &Problem{
		cathode: cathode,
		anode:   anode,
		target:  t,
		weights: weights,
		stretch: stretch,
		metrics: m,
	}
}

// Stretch reports whether the problem searches the stretch factors.
func (p *Problem) Stretch() bool { return p.stretch }

// Dim is the number of optimizer parameters.
func (p *Problem) Dim() int { return len(Bounds(p.stretch)) }

// Evaluations is the number of objective evaluations so far.
func (p *Problem) Evaluations() int64 { return p.evaluations.Load() }

// NonFinite is the number of evaluations that produced NaN or Inf.
func (p *Problem) NonFinite() int64 { return p.nonFinite.Load() }

// Evaluate scores an optimizer vector.
func (p *Problem) Evaluate(x []float64) float64 {
	v := p.Score(ParamsFromVector(x, p.stretch))
	p.evaluations.Add(1)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.nonFinite.Add(1)
	}
	p.metrics.ObserveEvaluation(v)
	return v
}

// Objective adapts Evaluate to the optimizer interface. It never fails.
func (p *Problem) Objective() optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		return p.Evaluate(x), nil
	}
}

// Score returns the weighted RMSD for params. Windows too small for a cubic
// score +Inf. Non-finite intermediate values propagate into the score.
func (p *Problem) Score(params Params) float64 {
	w := ComputeWindow(params, p.anode.Len(), p.cathode.Len())
	if !w.Valid() {
		return math.Inf(1)
	}

	n := p.target.gridPoints
	anode, err := resampleWindow(p.anode, params.AnodeStretch, w.E, w.F, n)
	if err != nil {
		return math.Inf(1)
	}
	cathode, err := resampleWindow(p.cathode, params.CathodeStretch, w.G, w.H, n)
	if err != nil {
		return math.Inf(1)
	}

	return p.weightedRMSD(cathode.values, anode.values)
}

func (p *Problem) weightedRMSD(cathode, anode []float64) float64 {
	ocv := p.target.ocv
	calculated := floats.SubTo(make([]float64, len(cathode)), cathode, anode)

	score := 0.0
	if wt := p.weights.Battery; wt != 0 {
		score += wt * curve.RMSD(calculated, ocv)
	}
	if wt := p.weights.DerivativeInverse; wt != 0 {
		inv := curve.InverseDerivative(calculated, p.target.soc)
		score += wt * curve.RMSD(inv, p.target.invDeriv)
	}
	if wt := p.weights.Anode; wt != 0 {
		anodeCalc := floats.SubTo(make([]float64, len(cathode)), cathode, ocv)
		score += wt * curve.RMSD(anodeCalc, anode)
	}
	if wt := p.weights.Cathode; wt != 0 {
		cathodeCalc := floats.AddTo(make([]float64, len(anode)), anode, ocv)
		score += wt * curve.RMSD(cathodeCalc, cathode)
	}
	return score
}

// resampled is one electrode window: a spline through the stretched window
// values over the native window axis, evaluated on an even grid.
type resampled struct {
	grid   []float64
	values []float64
	spline *curve.Spline
}

func resampleWindow(c *curve.Curve, stretch float64, from, to, n int) (resampled, error) {
	xs := c.X()[from:to]
	s, err := curve.FitSpline(xs, c.StretchedValues(stretch, from, to))
	if err != nil {
		return resampled{}, err
	}
	grid := curve.Linspace(xs[0], xs[len(xs)-1], n)
	return resampled{
		grid:   grid,
		values: s.PredictTo(nil, grid),
		spline: s,
	}, nil
}
