package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// MinPoints is the smallest sample count that can carry a cubic interpolant.
const MinPoints = 4

// Spline is a not-a-knot cubic spline over strictly increasing abscissae.
// Inside the sampled domain it matches a not-a-knot cubic interpolant; outside
// it continues linearly along the end slopes instead of clamping.
type Spline struct {
	cubic interp.NotAKnotCubic

	lo, hi         float64
	loY, hiY       float64
	loDyDx, hiDyDx float64
}

// FitSpline builds a spline through (xs, ys). xs must be strictly increasing,
// finite and at least MinPoints long.
func FitSpline(xs, ys []float64) (*Spline, error) {
	if err := checkSamples(xs, ys); err != nil {
		return nil, err
	}
	if !strictlyIncreasing(xs) {
		return nil, degenerate("x samples are not strictly increasing")
	}

	s := &Spline{}
	if err := s.cubic.Fit(xs, ys); err != nil {
		return nil, apperrors.Wrap(err, "fit cubic spline").
			WithKind(apperrors.KindDegenerateCurve).
			WithComponent("curve")
	}

	n := len(xs)
	s.lo, s.hi = xs[0], xs[n-1]
	s.loY, s.hiY = ys[0], ys[n-1]
	s.loDyDx = s.cubic.PredictDerivative(s.lo)
	s.hiDyDx = s.cubic.PredictDerivative(s.hi)
	return s, nil
}

// Predict returns the interpolated value at x, extrapolating linearly beyond
// the sampled domain.
func (s *Spline) Predict(x float64) float64 {
	switch {
	case x < s.lo:
		return s.loY + s.loDyDx*(x-s.lo)
	case x > s.hi:
		return s.hiY + s.hiDyDx*(x-s.hi)
	default:
		return s.cubic.Predict(x)
	}
}

// PredictTo evaluates the spline at every element of xs and stores the result
// in dst, allocating when dst is nil. It panics if dst is non-nil and its
// length differs from xs.
func (s *Spline) PredictTo(dst, xs []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(xs))
	}
	if len(dst) != len(xs) {
		panic("curve: PredictTo length mismatch")
	}
	for i, x := range xs {
		dst[i] = s.Predict(x)
	}
	return dst
}

// Domain returns the first and last fitted abscissa.
func (s *Spline) Domain() (lo, hi float64) {
	return s.lo, s.hi
}

func checkSamples(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return degenerate(fmt.Sprintf("x has %d samples, y has %d", len(xs), len(ys)))
	}
	if len(xs) < MinPoints {
		return degenerate(fmt.Sprintf("%d samples, at least %d required", len(xs), MinPoints))
	}
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) {
			return degenerate(fmt.Sprintf("non-finite x at sample %d", i))
		}
	}
	return nil
}

func strictlyIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return false
		}
	}
	return true
}

func strictlyDecreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] < xs[i-1]) {
			return false
		}
	}
	return true
}
