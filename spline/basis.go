package spline

import "sort"

// findSpan returns the knot interval index l, with degree <= l <= len(knots)-degree-2, such that
// knots[l] <= x < knots[l+1]. Values outside the base interval map to the first or last span so
// that the boundary polynomial pieces are extrapolated.
func findSpan(knots []float64, degree int, x float64) int {
	last := len(knots) - degree - 2
	count := last - degree + 1
	idx := sort.Search(count, func(i int) bool {
		return knots[degree+i+1] > x
	})
	span := degree + idx
	if span > last {
		span = last
	}
	return span
}

// basisDerivs computes the nonzero B-spline basis functions N_{span-degree..span} at x together
// with their derivatives up to order nder. ders[d][j] is the d-th derivative of N_{span-degree+j}.
// Derivatives above the degree are zero.
func basisDerivs(knots []float64, degree, span int, x float64, nder int) [][]float64 {
	p := degree
	ndu := make([][]float64, p+1)
	for i := range ndu {
		ndu[i] = make([]float64, p+1)
	}
	left := make([]float64, p+1)
	right := make([]float64, p+1)

	ndu[0][0] = 1
	for j := 1; j <= p; j++ {
		left[j] = x - knots[span+1-j]
		right[j] = knots[span+j] - x
		saved := 0.
		for r := 0; r < j; r++ {
			// lower triangle holds knot differences
			ndu[j][r] = right[r+1] + left[j-r]
			temp := ndu[r][j-1] / ndu[j][r]
			ndu[r][j] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		ndu[j][j] = saved
	}

	ders := make([][]float64, nder+1)
	for i := range ders {
		ders[i] = make([]float64, p+1)
	}
	for j := 0; j <= p; j++ {
		ders[0][j] = ndu[j][p]
	}
	if nder == 0 {
		return ders
	}

	a := [2][]float64{make([]float64, p+1), make([]float64, p+1)}
	for r := 0; r <= p; r++ {
		s1, s2 := 0, 1
		a[0][0] = 1
		for k := 1; k <= nder && k <= p; k++ {
			d := 0.
			rk := r - k
			pk := p - k
			if r >= k {
				a[s2][0] = a[s1][0] / ndu[pk+1][rk]
				d = a[s2][0] * ndu[rk][pk]
			}
			j1 := 1
			if rk < -1 {
				j1 = -rk
			}
			j2 := p - r
			if r-1 <= pk {
				j2 = k - 1
			}
			for j := j1; j <= j2; j++ {
				a[s2][j] = (a[s1][j] - a[s1][j-1]) / ndu[pk+1][rk+j]
				d += a[s2][j] * ndu[rk+j][pk]
			}
			if r <= pk {
				a[s2][k] = -a[s1][k-1] / ndu[pk+1][r]
				d += a[s2][k] * ndu[r][pk]
			}
			ders[k][r] = d
			s1, s2 = s2, s1
		}
	}

	factor := float64(p)
	for k := 1; k <= nder && k <= p; k++ {
		for j := 0; j <= p; j++ {
			ders[k][j] *= factor
		}
		factor *= float64(p - k)
	}
	return ders
}
