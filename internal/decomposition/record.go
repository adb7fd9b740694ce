package decomposition

import (
	"math"
	"strconv"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// Record is the flat result document written for plotting and archiving.
// Curve arrays are null when the best pair could not be reconstructed.
// ResampledFrom is set when Battery SOC/OCV are the measured curve resampled
// onto the reconstruction grid and holds the original sample count.
type Record struct {
	CathodeID      string    `json:"Best Cathode Data ID"`
	AnodeID        string    `json:"Best Anode Data ID"`
	Parameters     []int     `json:"Best Parameters"`
	StretchFactors []float64 `json:"Stretch Factors,omitempty"`
	LowestRMSD     Score     `json:"Lowest RMSD"`

	BatterySOC    []float64 `json:"Battery SOC"`
	BatteryOCV    []float64 `json:"Battery OCV"`
	ResampledFrom int       `json:"Resampled From,omitempty"`
	CalculatedOCV []float64 `json:"Calculated Battery OCV"`

	CathodeSOCFull []float64 `json:"Cathode SOC full"`
	CathodeOCPFull []float64 `json:"Cathode OCP full"`
	CathodeSOC     []float64 `json:"Cathode SOC"`
	CathodeOCP     []float64 `json:"Cathode OCP"`

	AnodeSOCFull []float64 `json:"Anode SOC full"`
	AnodeOCPFull []float64 `json:"Anode OCP full"`
	AnodeSOC     []float64 `json:"Anode SOC"`
	AnodeOCP     []float64 `json:"Anode OCP"`
}

// NewRecord flattens res. It fails when res has no best pair.
func NewRecord(res *Result) (*Record, error) {
	if res == nil || res.Best == nil {
		if res != nil && res.Diagnostic != nil {
			return nil, res.Diagnostic
		}
		return nil, apperrors.Wrap(ErrEmptyCandidateSet, "no best pair to record").WithComponent(component)
	}

	best := res.Best
	rec := &Record{
		CathodeID:  best.CathodeID,
		AnodeID:    best.AnodeID,
		Parameters: best.Window.Indices(),
		LowestRMSD: Score(best.Score),
		BatterySOC: res.Measured.SOC,
		BatteryOCV: res.Measured.OCV,
	}
	if n := res.MeasuredSamples; n > 0 && n != res.Measured.Len() {
		rec.ResampledFrom = n
	}
	if res.Stretch {
		rec.StretchFactors = []float64{best.Params.AnodeStretch, best.Params.CathodeStretch}
	}

	if c := res.Curves; c != nil {
		rec.CalculatedOCV = c.CalculatedOCV
		rec.CathodeSOCFull = c.CathodeSOCFull
		rec.CathodeOCPFull = c.CathodeOCPFull
		rec.CathodeSOC = c.CathodeSOC
		rec.CathodeOCP = c.CathodeOCP
		rec.AnodeSOCFull = c.AnodeSOCFull
		rec.AnodeOCPFull = c.AnodeOCPFull
		rec.AnodeSOC = c.AnodeSOC
		rec.AnodeOCP = c.AnodeOCP
	}
	return rec, nil
}

// Score is an objective value that encodes NaN and infinities as JSON null.
type Score float64

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}
