package decomposition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonPisek/PyBEP/internal/curve"
)

func anodeOCP(x float64) float64 {
	return 0.08 + 0.6*math.Exp(-6*x) + 0.03*math.Tanh(8*(0.5-x))
}

func cathodeOCP(x float64) float64 {
	return 4.25 - 0.45*x - 0.25*x*x + 0.05*math.Sin(3*x)
}

// sampled builds a curve with n samples of f on [lo, hi].
func sampled(t testing.TB, id string, f func(float64) float64, lo, hi float64, n int) *curve.Curve {
	t.Helper()
	x := curve.Linspace(lo, hi, n)
	y := make([]float64, n)
	for i, v := range x {
		y[i] = f(v)
	}
	c, err := curve.New(id, x, y)
	require.NoError(t, err)
	return c
}

// synthetic returns a measured curve equal to cathode - anode evaluated on
// gridPoints even samples of [lo, hi], on a normalized SOC axis.
func synthetic(t testing.TB, cathode, anode *curve.Curve, lo, hi float64, gridPoints int) curve.Measured {
	t.Helper()
	grid := curve.Linspace(lo, hi, gridPoints)
	c := cathode.Evaluate(grid)
	a := anode.Evaluate(grid)
	ocv := make([]float64, gridPoints)
	for i := range ocv {
		ocv[i] = c[i] - a[i]
	}
	m, err := curve.NewMeasured(curve.Linspace(0, 1, gridPoints), ocv)
	require.NoError(t, err)
	return m
}

func candidates(t testing.TB, curves ...*curve.Curve) curve.CandidateSet {
	t.Helper()
	set, err := curve.NewCandidateSet(curves...)
	require.NoError(t, err)
	return set
}
