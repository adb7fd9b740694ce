package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonPisek/PyBEP/internal/decomposition"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// ResultFileName returns the default result file name for a winning pair.
func ResultFileName(cathodeID, anodeID string) string {
	clean := func(s string) string {
		s = strings.Map(func(r rune) rune {
			switch r {
			case '/', '\\', ':', ' ':
				return '-'
			}
			return r
		}, s)
		if s == "" {
			return "none"
		}
		return s
	}
	return "decomposition_" + clean(cathodeID) + "_" + clean(anodeID) + ".json"
}

// WriteResult writes rec as JSON to path, creating parent directories. The
// file is written to a temporary sibling and renamed into place.
func WriteResult(path string, rec *decomposition.Record) error {
	if rec == nil {
		return apperrors.New("nil record").
			WithKind(apperrors.KindInvalidInput).
			WithOperation("write_result").
			WithComponent(component)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "encode result").WithOperation("write_result").WithComponent(component)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrapf(err, "create %s", dir).WithOperation("write_result").WithComponent(component)
	}

	tmp, err := os.CreateTemp(dir, ".result-*.json")
	if err != nil {
		return apperrors.Wrap(err, "create temporary file").WithOperation("write_result").WithComponent(component)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, "write result").WithOperation("write_result").WithComponent(component)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, "close result").WithOperation("write_result").WithComponent(component)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrapf(err, "rename to %s", path).WithOperation("write_result").WithComponent(component)
	}
	return nil
}

// ReadResult decodes a result file written by WriteResult.
func ReadResult(path string) (*decomposition.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read %s", path).
			WithKind(apperrors.KindInvalidInput).
			WithOperation("read_result").
			WithComponent(component)
	}
	var rec decomposition.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrapf(err, "decode %s", path).
			WithKind(apperrors.KindInvalidInput).
			WithOperation("read_result").
			WithComponent(component)
	}
	return &rec, nil
}
