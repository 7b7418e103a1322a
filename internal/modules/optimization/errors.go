package optimization

import (
	"errors"
	"fmt"
)

// Shape errors detected before any numerical work.
var (
	ErrEmptyUniverse         = errors.New("asset universe is empty")
	ErrDuplicateAsset        = errors.New("asset universe contains duplicates")
	ErrMisalignedSeries      = errors.New("return series are not aligned")
	ErrInvalidReturn         = errors.New("return series contains NaN or Inf")
	ErrInvalidCovariance     = errors.New("covariance matrix is malformed")
	ErrInvalidConstraints    = errors.New("invalid optimization constraints")
	ErrInfeasibleConstraints = errors.New("weight bounds cannot satisfy the budget constraint")
	ErrInvalidDateRange      = errors.New("start date must be before end date")
	ErrInvalidOptions        = errors.New("invalid optimizer options")
)

// InsufficientDataError is returned when an asset has fewer than two observations.
type InsufficientDataError struct {
	Asset        string
	Observations int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least 2 observations, got %d", e.Asset, e.Observations)
}

// InvalidViewError is returned for a Black-Litterman view that cannot be used.
type InvalidViewError struct {
	Asset  string
	Reason string
}

func (e *InvalidViewError) Error() string {
	return fmt.Sprintf("invalid view on %s: %s", e.Asset, e.Reason)
}

// SingularMatrixError is returned when a linear system is too degenerate to solve.
// It is distinct from non-convergence, which is reported through result flags.
type SingularMatrixError struct {
	Operation string
	Detail    string
}

func (e *SingularMatrixError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("singular matrix in %s", e.Operation)
	}
	return fmt.Sprintf("singular matrix in %s: %s", e.Operation, e.Detail)
}

// IsSingular reports whether err wraps a SingularMatrixError.
func IsSingular(err error) bool {
	var s *SingularMatrixError
	return errors.As(err, &s)
}

// IsInputError reports whether err is a data-shape problem the caller can fix.
func IsInputError(err error) bool {
	var insufficient *InsufficientDataError
	var view *InvalidViewError
	switch {
	case errors.As(err, &insufficient), errors.As(err, &view):
		return true
	case errors.Is(err, ErrEmptyUniverse),
		errors.Is(err, ErrDuplicateAsset),
		errors.Is(err, ErrMisalignedSeries),
		errors.Is(err, ErrInvalidReturn),
		errors.Is(err, ErrInvalidCovariance),
		errors.Is(err, ErrInvalidConstraints),
		errors.Is(err, ErrInfeasibleConstraints),
		errors.Is(err, ErrInvalidDateRange),
		errors.Is(err, ErrInvalidOptions):
		return true
	}
	return false
}
