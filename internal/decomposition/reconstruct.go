package decomposition

import (
	"gonum.org/v1/gonum/floats"

	"github.com/JonPisek/PyBEP/internal/curve"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// Reconstruction holds the winning curves on normalized SOC axes. The
// windowed SOC axes span [0, 1]; the full axes are scaled against the
// windowed range and extend beyond it where samples were trimmed.
type Reconstruction struct {
	Window Window

	BatterySOC    []float64
	BatteryOCV    []float64
	CalculatedOCV []float64

	CathodeSOC     []float64
	CathodeOCP     []float64
	CathodeSOCFull []float64
	CathodeOCPFull []float64

	AnodeSOC     []float64
	AnodeOCP     []float64
	AnodeSOCFull []float64
	AnodeOCPFull []float64
}

// Reconstruct rebuilds the windowed and full curves of best. The windowed
// curves have as many points as measured; a full curve has
// n + start + (n - end) points, at least n.
func Reconstruct(best PairResult, cathode, anode *curve.Curve, measured curve.Measured) (*Reconstruction, error) {
	n := measured.Len()
	if n < curve.MinPoints {
		return nil, apperrors.Wrapf(ErrInvalidMeasured, "%d samples", n).WithComponent(component)
	}

	p := best.Params
	w := ComputeWindow(p, anode.Len(), cathode.Len())
	if !w.Valid() {
		return nil, apperrors.Wrapf(ErrWindowTooSmall, "anode window %d, cathode window %d", w.AnodeLen(), w.CathodeLen()).
			WithOperation("reconstruct").
			WithComponent(component)
	}

	a, err := resampleWindow(anode, p.AnodeStretch, w.E, w.F, n)
	if err != nil {
		return nil, apperrors.Wrap(err, "anode window").WithOperation("reconstruct").WithComponent(component)
	}
	c, err := resampleWindow(cathode, p.CathodeStretch, w.G, w.H, n)
	if err != nil {
		return nil, apperrors.Wrap(err, "cathode window").WithOperation("reconstruct").WithComponent(component)
	}

	aFullGrid, aFull, err := fullCurve(anode, p.AnodeStretch, n+w.E+(n-w.F), n)
	if err != nil {
		return nil, apperrors.Wrap(err, "anode full curve").WithOperation("reconstruct").WithComponent(component)
	}
	cFullGrid, cFull, err := fullCurve(cathode, p.CathodeStretch, n+w.G+(n-w.H), n)
	if err != nil {
		return nil, apperrors.Wrap(err, "cathode full curve").WithOperation("reconstruct").WithComponent(component)
	}

	aLo, aHi := a.grid[0], a.grid[n-1]
	cLo, cHi := c.grid[0], c.grid[n-1]

	return &Reconstruction{
		Window:         w,
		BatterySOC:     append([]float64(nil), measured.SOC...),
		BatteryOCV:     append([]float64(nil), measured.OCV...),
		CalculatedOCV:  floats.SubTo(make([]float64, n), c.values, a.values),
		CathodeSOC:     curve.Normalize(c.grid, cLo, cHi),
		CathodeOCP:     c.values,
		CathodeSOCFull: curve.Normalize(cFullGrid, cLo, cHi),
		CathodeOCPFull: cFull,
		AnodeSOC:       curve.Normalize(a.grid, aLo, aHi),
		AnodeOCP:       a.values,
		AnodeSOCFull:   curve.Normalize(aFullGrid, aLo, aHi),
		AnodeOCPFull:   aFull,
	}, nil
}

// fullCurve evaluates the stretched, untrimmed curve on count even points
// across the native domain, with count raised to min when smaller.
func fullCurve(c *curve.Curve, stretch float64, count, min int) (grid, values []float64, err error) {
	if count < min {
		count = min
	}
	xs := c.X()
	s, err := curve.FitSpline(xs, c.StretchedValues(stretch, 0, len(xs)))
	if err != nil {
		return nil, nil, err
	}
	grid = curve.Linspace(xs[0], xs[len(xs)-1], count)
	return grid, s.PredictTo(nil, grid), nil
}
