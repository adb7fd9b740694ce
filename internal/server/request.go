package server

import (
	"github.com/JonPisek/PyBEP/internal/curve"
	"github.com/JonPisek/PyBEP/internal/dataset"
	"github.com/JonPisek/PyBEP/internal/decomposition"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// CurveData is an inline candidate curve.
type CurveData struct {
	ID string    `json:"id"`
	X  []float64 `json:"x"`
	Y  []float64 `json:"y"`
}

// MeasuredData is an inline full-cell curve.
type MeasuredData struct {
	SOC []float64 `json:"soc"`
	OCV []float64 `json:"ocv"`
}

// DecomposeRequest starts a decomposition job. Curves are either inline or,
// with UseDataDir, read from the configured data directories. Unset tuning
// fields fall back to the server configuration.
type DecomposeRequest struct {
	Cathodes   []CurveData   `json:"cathodes,omitempty"`
	Anodes     []CurveData   `json:"anodes,omitempty"`
	Battery    *MeasuredData `json:"battery,omitempty"`
	UseDataDir bool          `json:"use_data_dir,omitempty"`

	Iterations     *int                   `json:"iterations,omitempty"`
	Stretch        *bool                  `json:"stretch,omitempty"`
	Weights        *decomposition.Weights `json:"weights,omitempty"`
	Seed           *int64                 `json:"seed,omitempty"`
	Workers        *int                   `json:"workers,omitempty"`
	PopulationSize *int                   `json:"population_size,omitempty"`
	MaxGenerations *int                   `json:"max_generations,omitempty"`
	Tolerance      *float64               `json:"tolerance,omitempty"`
	Polish         *bool                  `json:"polish,omitempty"`

	// Save writes the result record into the results directory.
	Save bool `json:"save,omitempty"`
}

// searchInput is a validated request.
type searchInput struct {
	cathodes curve.CandidateSet
	anodes   curve.CandidateSet
	measured curve.Measured
	opts     decomposition.Options
	save     bool
}

func invalidRequest(format string, args ...interface{}) error {
	return apperrors.Errorf(format, args...).
		WithKind(apperrors.KindInvalidInput).
		WithOperation("decode_request").
		WithComponent("server")
}

// prepare loads and validates everything a job needs before it is queued so
// that bad input is reported synchronously.
func (s *Server) prepare(req DecomposeRequest) (*searchInput, error) {
	in := &searchInput{opts: s.cfg.SearchOptions(), save: req.Save}

	var err error
	if req.UseDataDir {
		if len(req.Cathodes) > 0 || len(req.Anodes) > 0 || req.Battery != nil {
			return nil, invalidRequest("use_data_dir excludes inline curves")
		}
		zl := s.zapLogger()
		if in.cathodes, err = dataset.LoadCandidateDir(s.cfg.Data.CathodeDir, zl); err != nil {
			return nil, err
		}
		if in.anodes, err = dataset.LoadCandidateDir(s.cfg.Data.AnodeDir, zl); err != nil {
			return nil, err
		}
		if in.measured, err = dataset.LoadMeasured(s.cfg.Data.BatteryFile); err != nil {
			return nil, err
		}
	} else {
		if req.Battery == nil {
			return nil, invalidRequest("battery curve is required")
		}
		if in.cathodes, err = candidateSet(req.Cathodes); err != nil {
			return nil, err
		}
		if in.anodes, err = candidateSet(req.Anodes); err != nil {
			return nil, err
		}
		soc, ocv, err := curve.Orient(req.Battery.SOC, req.Battery.OCV)
		if err != nil {
			return nil, apperrors.Wrap(err, "battery").WithComponent("server")
		}
		if in.measured, err = curve.NewMeasured(soc, ocv); err != nil {
			return nil, apperrors.Wrap(err, "battery").WithComponent("server")
		}
	}

	o := &in.opts
	if req.Iterations != nil {
		o.Iterations = *req.Iterations
	}
	if req.Stretch != nil {
		o.Stretch = *req.Stretch
	}
	if req.Weights != nil {
		o.Weights = *req.Weights
	}
	if req.Seed != nil {
		o.Seed = *req.Seed
	}
	if req.Workers != nil {
		o.Workers = *req.Workers
	}
	if req.PopulationSize != nil {
		o.PopulationSize = *req.PopulationSize
	}
	if req.MaxGenerations != nil {
		o.MaxGenerations = *req.MaxGenerations
	}
	if req.Tolerance != nil {
		o.Tolerance = *req.Tolerance
	}
	if req.Polish != nil {
		o.Polish = *req.Polish
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func candidateSet(data []CurveData) (curve.CandidateSet, error) {
	curves := make([]*curve.Curve, 0, len(data))
	for i, d := range data {
		if d.ID == "" {
			return nil, invalidRequest("curve %d has no id", i)
		}
		c, err := curve.New(d.ID, d.X, d.Y)
		if err != nil {
			return nil, err
		}
		curves = append(curves, c)
	}
	return curve.NewCandidateSet(curves...)
}
