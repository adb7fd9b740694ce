// Package dataset reads curve text files and writes decomposition results.
//
// Curve files hold two whitespace-separated numeric columns per row: the
// independent axis (SOC) and the potential. Blank lines and lines starting
// with '#' are ignored.
package dataset

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/curve"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

const component = "dataset"

// CurveExt is the extension of candidate curve files.
const CurveExt = ".txt"

// ErrMalformedRow reports a row that does not hold two numeric columns.
var ErrMalformedRow = apperrors.New("malformed row").WithKind(apperrors.KindInvalidInput)

// LoadCurveFile reads the two leading columns of path.
func LoadCurveFile(path string) (x, y []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, apperrors.Wrapf(err, "open %s", path).
			WithKind(apperrors.KindInvalidInput).
			WithOperation("load_curve").
			WithComponent(component)
	}
	defer f.Close()

	x, y, err = ReadCurve(f)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, path).WithOperation("load_curve").WithComponent(component)
	}
	return x, y, nil
}

// ReadCurve parses curve rows from r. Columns past the second are ignored.
func ReadCurve(r io.Reader) (x, y []float64, err error) {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, nil, apperrors.Wrapf(ErrMalformedRow, "line %d: want 2 columns, got %d", line, len(fields))
		}
		xv, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, apperrors.Wrapf(ErrMalformedRow, "line %d: %v", line, err)
		}
		yv, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, apperrors.Wrapf(ErrMalformedRow, "line %d: %v", line, err)
		}
		x = append(x, xv)
		y = append(y, yv)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, apperrors.Wrap(err, "read curve").WithKind(apperrors.KindInvalidInput)
	}
	return x, y, nil
}

// LoadCurve reads path into a curve named after the file without its
// extension.
func LoadCurve(path string) (*curve.Curve, error) {
	x, y, err := LoadCurveFile(path)
	if err != nil {
		return nil, err
	}
	return curve.New(CurveID(path), x, y)
}

// CurveID returns the candidate identifier for a curve file.
func CurveID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadCandidateDir loads every *.txt file in dir. A missing directory is an
// error; a directory without curve files yields an empty set. Any file that
// fails to parse or fit aborts the load.
func LoadCandidateDir(dir string, logger *zap.Logger) (curve.CandidateSet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read candidate directory %s", dir).
			WithKind(apperrors.KindInvalidInput).
			WithOperation("load_candidates").
			WithComponent(component)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), CurveExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	curves := make([]*curve.Curve, 0, len(names))
	for _, name := range names {
		c, err := LoadCurve(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		lo, hi := c.Domain()
		logger.Debug("loaded candidate",
			zap.String("id", c.ID()),
			zap.Int("samples", c.Len()),
			zap.Float64("x_min", lo),
			zap.Float64("x_max", hi),
			zap.String("dir", dir),
		)
		curves = append(curves, c)
	}

	set, err := curve.NewCandidateSet(curves...)
	if err != nil {
		return nil, apperrors.Wrap(err, dir).WithOperation("load_candidates").WithComponent(component)
	}
	logger.Info("loaded candidate set", zap.String("dir", dir), zap.Int("count", len(set)))
	return set, nil
}

// LoadMeasured reads the full-cell curve at path. Rows ordered by
// decreasing SOC are reversed.
func LoadMeasured(path string) (curve.Measured, error) {
	soc, ocv, err := LoadCurveFile(path)
	if err != nil {
		return curve.Measured{}, err
	}
	if soc, ocv, err = curve.Orient(soc, ocv); err != nil {
		return curve.Measured{}, apperrors.Wrap(err, path).WithOperation("load_measured").WithComponent(component)
	}
	m, err := curve.NewMeasured(soc, ocv)
	if err != nil {
		return curve.Measured{}, apperrors.Wrap(err, path).WithOperation("load_measured").WithComponent(component)
	}
	return m, nil
}
