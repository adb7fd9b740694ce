package decomposition

import (
	"math"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// Weights scales the terms of the objective.
type Weights struct {
	// Battery weighs RMSD(reconstructed OCV, measured OCV).
	Battery float64 `json:"battery"`
	// DerivativeInverse weighs the RMSD of 1/(dOCV/dSOC).
	DerivativeInverse float64 `json:"derivative_inverse"`
	// Anode weighs RMSD(cathode - OCV, anode).
	Anode float64 `json:"anode"`
	// Cathode weighs RMSD(anode + OCV, cathode).
	Cathode float64 `json:"cathode"`
}

// DefaultWeights fits the full-cell curve only.
func DefaultWeights() Weights {
	return Weights{Battery: 1}
}

// Validate rejects negative or non-finite weights and the all-zero set.
func (w Weights) Validate() error {
	all := []float64{w.Battery, w.DerivativeInverse, w.Anode, w.Cathode}
	sum := 0.0
	for _, v := range all {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return apperrors.Wrapf(ErrInvalidWeights, "weight %v is not a finite non-negative number", v).
				WithComponent(component)
		}
		sum += v
	}
	if sum == 0 {
		return apperrors.Wrap(ErrInvalidWeights, "all weights are zero").WithComponent(component)
	}
	return nil
}
