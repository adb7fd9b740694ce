// Package curve models sampled electrode and full-cell curves: cubic
// interpolants with extrapolation, candidate sets keyed by identifier, the
// measured full-cell curve, and the vector helpers the objective needs.
package curve

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// ErrDegenerateCurve is returned for curves that cannot be interpolated: too
// few points, mismatched lengths, non-finite samples or a non-monotonic axis.
var ErrDegenerateCurve = apperrors.New("degenerate curve").WithKind(apperrors.KindDegenerateCurve)

func degenerate(msg string) error {
	return apperrors.Wrap(ErrDegenerateCurve, msg).WithComponent("curve")
}

// Curve is a sampled half-cell curve with its interpolant. X is strictly
// increasing. A Curve is immutable after construction and safe for concurrent
// use.
type Curve struct {
	id     string
	x, y   []float64
	spline *Spline
}

// Orient returns copies of x and y in ascending x order. Strictly decreasing
// input is reversed; input that is neither strictly increasing nor strictly
// decreasing is rejected.
func Orient(x, y []float64) ([]float64, []float64, error) {
	if err := checkSamples(x, y); err != nil {
		return nil, nil, err
	}
	xs := append([]float64(nil), x...)
	ys := append([]float64(nil), y...)
	switch {
	case strictlyIncreasing(xs):
	case strictlyDecreasing(xs):
		reverse(xs)
		reverse(ys)
	default:
		return nil, nil, degenerate("x samples are not monotonic")
	}
	return xs, ys, nil
}

// New builds a Curve from raw samples, reorienting descending input.
func New(id string, x, y []float64) (*Curve, error) {
	xs, ys, err := Orient(x, y)
	if err != nil {
		return nil, apperrors.Wrapf(err, "curve %q", id)
	}
	for i, v := range ys {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, apperrors.Wrapf(degenerate(fmt.Sprintf("non-finite y at sample %d", i)), "curve %q", id)
		}
	}
	spline, err := FitSpline(xs, ys)
	if err != nil {
		return nil, apperrors.Wrapf(err, "curve %q", id)
	}
	return &Curve{id: id, x: xs, y: ys, spline: spline}, nil
}

// ID returns the candidate identifier.
func (c *Curve) ID() string { return c.id }

// Len returns the number of native samples.
func (c *Curve) Len() int { return len(c.x) }

// X returns the native abscissae. The slice must not be modified.
func (c *Curve) X() []float64 { return c.x }

// Y returns the native ordinates. The slice must not be modified.
func (c *Curve) Y() []float64 { return c.y }

// Domain returns the native x range.
func (c *Curve) Domain() (lo, hi float64) { return c.spline.Domain() }

// At evaluates the interpolant at x.
func (c *Curve) At(x float64) float64 { return c.spline.Predict(x) }

// Evaluate applies the interpolant elementwise. Points outside the native
// domain are extrapolated.
func (c *Curve) Evaluate(xs []float64) []float64 {
	return c.spline.PredictTo(nil, xs)
}

// StretchedValues returns curve(stretch*x) for the native samples x[from:to].
func (c *Curve) StretchedValues(stretch float64, from, to int) []float64 {
	out := make([]float64, to-from)
	for i := range out {
		out[i] = c.At(stretch * c.x[from+i])
	}
	return out
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// CandidateSet maps candidate identifiers to curves of one electrode type.
type CandidateSet map[string]*Curve

// NewCandidateSet indexes curves by their identifiers. Duplicate identifiers
// are rejected.
func NewCandidateSet(curves ...*Curve) (CandidateSet, error) {
	set := make(CandidateSet, len(curves))
	for _, c := range curves {
		if _, dup := set[c.ID()]; dup {
			return nil, apperrors.Errorf("duplicate candidate %q", c.ID()).
				WithKind(apperrors.KindInvalidInput).
				WithComponent("curve")
		}
		set[c.ID()] = c
	}
	return set, nil
}

// IDs returns the identifiers in natural (lexical) order. Pair enumeration and
// tie-breaking follow this order.
func (s CandidateSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the curve for id.
func (s CandidateSet) Get(id string) (*Curve, bool) {
	c, ok := s[id]
	return c, ok
}
