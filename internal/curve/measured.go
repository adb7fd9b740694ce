package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Measured is the full-cell reference curve: fractional SOC and OCV in volts.
type Measured struct {
	SOC []float64
	OCV []float64
}

// NewMeasured validates and copies a measured curve. SOC must be strictly
// increasing and both arrays finite and of equal length.
func NewMeasured(soc, ocv []float64) (Measured, error) {
	if err := checkSamples(soc, ocv); err != nil {
		return Measured{}, err
	}
	if !strictlyIncreasing(soc) {
		return Measured{}, degenerate("SOC is not strictly increasing")
	}
	for i, v := range ocv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Measured{}, degenerate(fmt.Sprintf("non-finite OCV at sample %d", i))
		}
	}
	return Measured{
		SOC: append([]float64(nil), soc...),
		OCV: append([]float64(nil), ocv...),
	}, nil
}

// Len returns the number of samples.
func (m Measured) Len() int { return len(m.SOC) }

// Resample returns the curve linearly interpolated onto n evenly spaced SOC
// values spanning the original SOC range.
func (m Measured) Resample(n int) (Measured, error) {
	if n < MinPoints {
		return Measured{}, degenerate(fmt.Sprintf("cannot resample to %d points", n))
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(m.SOC, m.OCV); err != nil {
		return Measured{}, degenerate(err.Error())
	}
	soc := Linspace(m.SOC[0], m.SOC[len(m.SOC)-1], n)
	ocv := make([]float64, n)
	for i, s := range soc {
		ocv[i] = pl.Predict(s)
	}
	return Measured{SOC: soc, OCV: ocv}, nil
}
