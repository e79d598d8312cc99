// Package spline fits and evaluates one dimensional smoothing B-splines.
//
// Fitting follows the knot placement and smoothing strategy of Dierckx's FITPACK curfit: with a zero
// smoothing factor the spline interpolates the data, otherwise knots are added until a least squares
// spline is close enough and a penalty on the jumps of the highest derivative is tuned so that the
// weighted sum of squared residuals matches the smoothing factor.
package spline

import (
	"math"
)

const maxDegree = 5

// Spline is a fitted B-spline of a given degree. It is immutable once returned by Fit and is safe to
// evaluate concurrently.
type Spline struct {
	knots  []float64
	coeffs []float64
	degree int
	fp     float64

	converged bool
}

// Degree returns the polynomial degree of each spline piece.
func (s *Spline) Degree() int {
	return s.degree
}

// Knots returns a copy of the full knot vector, boundary knots included.
func (s *Spline) Knots() []float64 {
	return append([]float64(nil), s.knots...)
}

// Coefficients returns a copy of the B-spline coefficients.
func (s *Spline) Coefficients() []float64 {
	return append([]float64(nil), s.coeffs...)
}

// Residual returns the weighted sum of squared residuals of the fit at the data sites.
func (s *Spline) Residual() float64 {
	return s.fp
}

// Converged reports whether the fit met its target: exact interpolation, or a smoothing fit whose
// residual is within the tolerance of the smoothing factor (or below it for a polynomial). A fit
// that ran out of iterations or knots is still returned, with Converged false.
func (s *Spline) Converged() bool {
	return s.converged
}

// Domain returns the first and last data site the spline was fit over.
func (s *Spline) Domain() (float64, float64) {
	return s.knots[s.degree], s.knots[len(s.knots)-s.degree-1]
}

// At returns the der-th derivative of the spline at x. Outside the domain the boundary pieces are
// extrapolated.
func (s *Spline) At(x float64, der int) (float64, error) {
	if der < 0 || der > s.degree {
		return math.NaN(), newDerivativeOrderError(der, s.degree)
	}
	return s.at(x, der), nil
}

func (s *Spline) at(x float64, der int) float64 {
	span := findSpan(s.knots, s.degree, x)
	ders := basisDerivs(s.knots, s.degree, span, x, der)
	first := span - s.degree
	val := 0.
	for j, b := range ders[der] {
		val += s.coeffs[first+j] * b
	}
	return val
}

// Evaluate returns the der-th derivative of the spline at each of times.
func (s *Spline) Evaluate(times []float64, der int) ([]float64, error) {
	if der < 0 || der > s.degree {
		return nil, newDerivativeOrderError(der, s.degree)
	}
	out := make([]float64, len(times))
	for i, x := range times {
		out[i] = s.at(x, der)
	}
	return out, nil
}

// Evaluate returns the der-th derivative of model at each of times.
func Evaluate(model *Spline, times []float64, der int) ([]float64, error) {
	return model.Evaluate(times, der)
}
