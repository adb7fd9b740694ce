package decomposition

import (
	"math"

	"github.com/JonPisek/PyBEP/internal/curve"
)

// Maximum share of the native samples that may be trimmed from each end.
const (
	AnodeTrimFraction   = 0.3
	CathodeTrimFraction = 0.15
)

// Upper bound of the stretch factors.
const MaxStretch = 2.0

// Params is one point of the search box. The trim fractions are in [0, 1]
// and scale AnodeTrimFraction / CathodeTrimFraction. Without stretch both
// stretch factors are 1.
type Params struct {
	AnodeStretch   float64 `json:"anode_stretch"`
	CathodeStretch float64 `json:"cathode_stretch"`
	AnodeStart     float64 `json:"anode_start"`
	AnodeEnd       float64 `json:"anode_end"`
	CathodeStart   float64 `json:"cathode_start"`
	CathodeEnd     float64 `json:"cathode_end"`
}

// ParamsFromVector decodes an optimizer vector: (a, c, e%, f%, g%, h%) with
// stretch, (e%, f%, g%, h%) without.
func ParamsFromVector(x []float64, stretch bool) Params {
	if stretch {
		return Params{
			AnodeStretch:   x[0],
			CathodeStretch: x[1],
			AnodeStart:     x[2],
			AnodeEnd:       x[3],
			CathodeStart:   x[4],
			CathodeEnd:     x[5],
		}
	}
	return Params{
		AnodeStretch:   1,
		CathodeStretch: 1,
		AnodeStart:     x[0],
		AnodeEnd:       x[1],
		CathodeStart:   x[2],
		CathodeEnd:     x[3],
	}
}

// Vector is the inverse of ParamsFromVector.
func (p Params) Vector(stretch bool) []float64 {
	trims := []float64{p.AnodeStart, p.AnodeEnd, p.CathodeStart, p.CathodeEnd}
	if !stretch {
		return trims
	}
	return append([]float64{p.AnodeStretch, p.CathodeStretch}, trims...)
}

// Bounds returns the search box: [0,2]^2 x [0,1]^4 with stretch, [0,1]^4
// without.
func Bounds(stretch bool) [][2]float64 {
	b := [][2]float64{{0, 1}, {0, 1}, {0, 1}, {0, 1}}
	if stretch {
		b = append([][2]float64{{0, MaxStretch}, {0, MaxStretch}}, b...)
	}
	return b
}

// Window holds the half-open sample ranges [E, F) of the anode and [G, H) of
// the cathode.
type Window struct {
	E int `json:"e"`
	F int `json:"f"`
	G int `json:"g"`
	H int `json:"h"`
}

// ComputeWindow converts the trim fractions of p into sample indices for
// curves of nAnode and nCathode samples. F never exceeds nAnode and H never
// exceeds nCathode.
func ComputeWindow(p Params, nAnode, nCathode int) Window {
	w := Window{
		E: trimCount(p.AnodeStart, nAnode, AnodeTrimFraction),
		F: nAnode - trimCount(p.AnodeEnd, nAnode, AnodeTrimFraction),
		G: trimCount(p.CathodeStart, nCathode, CathodeTrimFraction),
		H: nCathode - trimCount(p.CathodeEnd, nCathode, CathodeTrimFraction),
	}
	if w.F > nAnode {
		w.F = nAnode
	}
	if w.H > nCathode {
		w.H = nCathode
	}
	return w
}

func trimCount(frac float64, n int, limit float64) int {
	if math.IsNaN(frac) {
		return 0
	}
	frac = math.Max(0, math.Min(frac, 1))
	return int(frac * float64(n) * limit)
}

// AnodeLen is the number of anode samples inside the window.
func (w Window) AnodeLen() int { return w.F - w.E }

// CathodeLen is the number of cathode samples inside the window.
func (w Window) CathodeLen() int { return w.H - w.G }

// Valid reports whether both windows can carry a cubic interpolant.
func (w Window) Valid() bool {
	return w.AnodeLen() >= curve.MinPoints && w.CathodeLen() >= curve.MinPoints
}

// Indices returns (e, f, g, h).
func (w Window) Indices() []int {
	return []int{w.E, w.F, w.G, w.H}
}
