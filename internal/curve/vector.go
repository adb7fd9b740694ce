package curve

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Linspace returns n evenly spaced values from lo to hi inclusive.
// n == 1 yields {lo}; n <= 0 yields nil.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	out := floats.Span(make([]float64, n), lo, hi)
	out[n-1] = hi
	return out
}

// Gradient returns dy/dx using second order central differences in the
// interior and first order one-sided differences at the ends, with
// non-uniform spacing handled exactly. len(x) must equal len(y) and be >= 2.
func Gradient(y, x []float64) []float64 {
	n := len(y)
	if n != len(x) {
		panic("curve: Gradient length mismatch")
	}
	if n < 2 {
		panic("curve: Gradient needs at least two samples")
	}
	g := make([]float64, n)
	g[0] = (y[1] - y[0]) / (x[1] - x[0])
	g[n-1] = (y[n-1] - y[n-2]) / (x[n-1] - x[n-2])
	for i := 1; i < n-1; i++ {
		h1 := x[i] - x[i-1]
		h2 := x[i+1] - x[i]
		g[i] = (h1*h1*y[i+1] - h2*h2*y[i-1] + (h2*h2-h1*h1)*y[i]) / (h1 * h2 * (h1 + h2))
	}
	return g
}

// InverseDerivative returns 1 / (dy/dx). Zero slopes yield infinities and
// 0/0 yields NaN; callers fold those into their score unchanged.
func InverseDerivative(y, x []float64) []float64 {
	g := Gradient(y, x)
	for i, v := range g {
		g[i] = 1 / v
	}
	return g
}

// RMSD returns sqrt(mean((u-v)^2)). Non-finite inputs propagate.
func RMSD(u, v []float64) float64 {
	if len(u) == 0 {
		return math.NaN()
	}
	return floats.Distance(u, v, 2) / math.Sqrt(float64(len(u)))
}

// Normalize maps xs affinely so that lo goes to 0 and hi goes to 1. Values
// outside [lo, hi] land outside [0, 1].
func Normalize(xs []float64, lo, hi float64) []float64 {
	out := make([]float64, len(xs))
	span := hi - lo
	for i, x := range xs {
		out[i] = (x - lo) / span
	}
	return out
}
