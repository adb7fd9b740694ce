package decomposition

import apperrors "github.com/JonPisek/PyBEP/internal/errors"

const component = "decomposition"

var (
	// ErrEmptyCandidateSet reports a search without cathode or anode
	// candidates. Run returns it as Result.Diagnostic, not as an error.
	ErrEmptyCandidateSet = apperrors.New("empty candidate set").WithKind(apperrors.KindEmptyCandidateSet)
	// ErrCandidateNotFound reports a winning identifier missing from its set.
	ErrCandidateNotFound = apperrors.New("candidate not found").WithKind(apperrors.KindNotFound)
	// ErrNoSearchResult reports a winning pair that timed out before any
	// finite score was found. Run returns it as Result.Diagnostic.
	ErrNoSearchResult = apperrors.New("no finite search result").WithKind(apperrors.KindInternal)
	// ErrInvalidMeasured reports a measured curve that cannot be fitted.
	ErrInvalidMeasured = apperrors.New("invalid measured curve").WithKind(apperrors.KindInvalidInput)
	// ErrInvalidWeights reports unusable objective weights.
	ErrInvalidWeights = apperrors.New("invalid weights").WithKind(apperrors.KindInvalidInput)
	// ErrInvalidOptions reports unusable search options.
	ErrInvalidOptions = apperrors.New("invalid options").WithKind(apperrors.KindInvalidInput)
	// ErrWindowTooSmall reports a window with fewer samples than a cubic needs.
	ErrWindowTooSmall = apperrors.New("window too small").WithKind(apperrors.KindDegenerateCurve)
)
