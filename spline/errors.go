package spline

import "github.com/pkg/errors"

var (
	// ErrTooFewPoints is returned when a fit is requested with no more points than the degree.
	ErrTooFewPoints = errors.New("not enough points for spline degree")

	// ErrNotIncreasing is returned when the independent variable is not strictly increasing.
	// Repeated sites fall in this class.
	ErrNotIncreasing = errors.New("spline sites must be strictly increasing")

	// ErrNonFinite is returned when an input contains NaN or Inf.
	ErrNonFinite = errors.New("spline input must be finite")
)

func newBadDegreeError(degree int) error {
	return errors.Errorf("spline degree must be between 1 and %d, got %d", maxDegree, degree)
}

func newLengthMismatchError(sites, values int) error {
	return errors.Errorf("got %d sites but %d values", sites, values)
}

func newDerivativeOrderError(der, degree int) error {
	return errors.Errorf("derivative order %d out of range for degree %d spline", der, degree)
}
