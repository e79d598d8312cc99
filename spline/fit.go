package spline

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// Fits within this fraction of the smoothing factor are accepted.
	defaultTolerance = 0.001

	// Maximum number of penalty updates when searching for the smoothing spline.
	defaultMaxIterations = 20

	// Penalty weights are scaled by this factor while bracketing the root of fp(p) = s.
	penaltyStep = 0.04
)

type fitOptions struct {
	weights   []float64
	tolerance float64
	maxIter   int
}

// FitOption configures a call to Fit.
type FitOption func(*fitOptions)

// WithWeights sets a positive weight for each data point. Residuals are multiplied by their weight
// before squaring. Unweighted fits use a weight of one.
func WithWeights(weights []float64) FitOption {
	return func(o *fitOptions) {
		o.weights = weights
	}
}

// WithTolerance sets the relative tolerance on the smoothing condition.
func WithTolerance(tol float64) FitOption {
	return func(o *fitOptions) {
		o.tolerance = tol
	}
}

// WithMaxIterations bounds the number of penalty updates performed for a smoothing fit.
func WithMaxIterations(n int) FitOption {
	return func(o *fitOptions) {
		o.maxIter = n
	}
}

// Fit fits a spline of the given degree to values sampled at the strictly increasing sites.
// A smoothing factor of zero interpolates every point. A positive smoothing factor s yields the
// smoothest spline whose weighted sum of squared residuals is approximately s.
func Fit(sites, values []float64, degree int, smoothing float64, opts ...FitOption) (*Spline, error) {
	o := fitOptions{tolerance: defaultTolerance, maxIter: defaultMaxIterations}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateFitInput(sites, values, degree, smoothing, &o); err != nil {
		return nil, err
	}

	f := &fitter{
		x:       sites,
		y:       values,
		w:       o.weights,
		k:       degree,
		s:       smoothing,
		tol:     o.tolerance,
		maxIter: o.maxIter,
	}
	if smoothing == 0 {
		return f.interpolate()
	}
	return f.smooth()
}

func validateFitInput(sites, values []float64, degree int, smoothing float64, o *fitOptions) error {
	if degree < 1 || degree > maxDegree {
		return newBadDegreeError(degree)
	}
	if len(sites) != len(values) {
		return newLengthMismatchError(len(sites), len(values))
	}
	if len(sites) <= degree {
		return errors.Wrapf(ErrTooFewPoints, "degree %d needs at least %d points, got %d", degree, degree+1, len(sites))
	}
	if !allFinite(sites) || !allFinite(values) {
		return ErrNonFinite
	}
	for i := 1; i < len(sites); i++ {
		if sites[i] <= sites[i-1] {
			return errors.Wrapf(ErrNotIncreasing, "site %d (%v) does not exceed site %d (%v)", i, sites[i], i-1, sites[i-1])
		}
	}
	if math.IsNaN(smoothing) || math.IsInf(smoothing, 0) || smoothing < 0 {
		return errors.Errorf("smoothing factor must be finite and non-negative, got %v", smoothing)
	}
	if o.tolerance <= 0 || o.tolerance >= 1 {
		return errors.Errorf("tolerance must be in (0, 1), got %v", o.tolerance)
	}
	if o.maxIter < 1 {
		return errors.Errorf("max iterations must be positive, got %d", o.maxIter)
	}
	if o.weights == nil {
		o.weights = make([]float64, len(sites))
		floats.AddConst(1, o.weights)
		return nil
	}
	if len(o.weights) != len(sites) {
		return errors.Errorf("got %d weights for %d points", len(o.weights), len(sites))
	}
	if !allFinite(o.weights) || floats.Min(o.weights) <= 0 {
		return errors.New("weights must be finite and positive")
	}
	return nil
}

func allFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type fitter struct {
	x, y, w []float64
	k       int
	s       float64
	tol     float64
	maxIter int
}

// lsqFit is the weighted least squares spline for a fixed knot vector.
type lsqFit struct {
	knots  []float64
	obs    *mat.Dense
	rhs    *mat.VecDense
	coeffs *mat.VecDense
	res    []float64
	fp     float64
	diag   float64
}

func (l *lsqFit) spline(degree int, converged bool) *Spline {
	return &Spline{
		knots:     l.knots,
		coeffs:    mat.Col(nil, 0, l.coeffs),
		degree:    degree,
		fp:        l.fp,
		converged: converged,
	}
}

// knotState tracks the interior knots of a smoothing fit along with, for every knot interval, the
// number of data sites strictly inside it and its share of the squared residuals.
type knotState struct {
	interior []float64
	nrdata   []int
	fpint    []float64
}

func (f *fitter) knotVector(interior []float64) []float64 {
	m := len(f.x)
	knots := make([]float64, 0, len(interior)+2*(f.k+1))
	for i := 0; i <= f.k; i++ {
		knots = append(knots, f.x[0])
	}
	knots = append(knots, interior...)
	for i := 0; i <= f.k; i++ {
		knots = append(knots, f.x[m-1])
	}
	return knots
}

// interpolationInterior places interior knots at data sites for odd degrees and between data sites
// for even degrees, giving as many coefficients as points.
func (f *fitter) interpolationInterior() []float64 {
	count := len(f.x) - f.k - 1
	interior := make([]float64, count)
	half := f.k / 2
	for l := range interior {
		j := half + 1 + l
		if f.k%2 == 1 {
			interior[l] = f.x[j]
		} else {
			interior[l] = (f.x[j] + f.x[j-1]) / 2
		}
	}
	return interior
}

func (f *fitter) interpolate() (*Spline, error) {
	fit, err := f.leastSquares(f.knotVector(f.interpolationInterior()))
	if err != nil {
		return nil, err
	}
	return fit.spline(f.k, true), nil
}

// observations builds the weighted collocation matrix and right hand side for the data.
func (f *fitter) observations(knots []float64) (*mat.Dense, *mat.VecDense) {
	nc := len(knots) - f.k - 1
	obs := mat.NewDense(len(f.x), nc, nil)
	rhs := mat.NewVecDense(len(f.x), nil)
	for i, xi := range f.x {
		span := findSpan(knots, f.k, xi)
		basis := basisDerivs(knots, f.k, span, xi, 0)[0]
		for j, v := range basis {
			obs.Set(i, span-f.k+j, f.w[i]*v)
		}
		rhs.SetVec(i, f.w[i]*f.y[i])
	}
	return obs, rhs
}

func (f *fitter) leastSquares(knots []float64) (*lsqFit, error) {
	obs, rhs := f.observations(knots)
	var qr mat.QR
	qr.Factorize(obs)
	coeffs, err := solveQR(&qr, rhs, len(knots)-f.k-1)
	if err != nil {
		return nil, err
	}

	var r mat.Dense
	qr.RTo(&r)
	diag := 0.
	for i := 0; i < coeffs.Len(); i++ {
		diag += math.Abs(r.At(i, i))
	}

	res, fp := residuals(obs, rhs, coeffs)
	return &lsqFit{
		knots:  knots,
		obs:    obs,
		rhs:    rhs,
		coeffs: coeffs,
		res:    res,
		fp:     fp,
		diag:   diag,
	}, nil
}

// penalized solves the least squares problem with the discontinuity jumps appended as extra
// equations weighted by 1/p. The returned residual only covers the data rows.
func (f *fitter) penalized(base *lsqFit, jumps *mat.Dense, p float64) (*lsqFit, error) {
	m, nc := base.obs.Dims()
	rows, _ := jumps.Dims()

	aug := mat.NewDense(m+rows, nc, nil)
	aug.Slice(0, m, 0, nc).(*mat.Dense).Copy(base.obs)
	aug.Slice(m, m+rows, 0, nc).(*mat.Dense).Scale(1/p, jumps)
	rhs := mat.NewVecDense(m+rows, nil)
	rhs.SliceVec(0, m).(*mat.VecDense).CopyVec(base.rhs)

	var qr mat.QR
	qr.Factorize(aug)
	coeffs, err := solveQR(&qr, rhs, nc)
	if err != nil {
		return nil, err
	}
	res, fp := residuals(base.obs, base.rhs, coeffs)
	return &lsqFit{
		knots:  base.knots,
		obs:    base.obs,
		rhs:    base.rhs,
		coeffs: coeffs,
		res:    res,
		fp:     fp,
	}, nil
}

func solveQR(qr *mat.QR, rhs mat.Vector, nc int) (*mat.VecDense, error) {
	var coeffs mat.VecDense
	if err := qr.SolveVecTo(&coeffs, false, rhs); err != nil {
		// Ill conditioning alone is tolerated as long as a usable solution came back.
		var cond mat.Condition
		if !errors.As(err, &cond) || coeffs.Len() != nc || !allFinite(mat.Col(nil, 0, &coeffs)) {
			return nil, errors.Wrap(err, "could not solve spline system")
		}
	}
	return &coeffs, nil
}

func residuals(obs *mat.Dense, rhs, coeffs *mat.VecDense) ([]float64, float64) {
	var r mat.VecDense
	r.MulVec(obs, coeffs)
	r.SubVec(&r, rhs)
	return mat.Col(nil, 0, &r), mat.Dot(&r, &r)
}

func (f *fitter) smooth() (*Spline, error) {
	m := len(f.x)
	nmin := 2 * (f.k + 1)
	nmax := m + f.k + 1
	acc := f.tol * f.s

	st := &knotState{nrdata: []int{m - 2}, fpint: []float64{0}}
	var fit *lsqFit
	var fp0, fpold, fpms float64
	nplus := 0
	searching := true

	// m is a safe upper bound on the number of knot sets tried.
	for iter := 0; iter < m && searching; iter++ {
		knots := f.knotVector(st.interior)
		n := len(knots)
		var err error
		fit, err = f.leastSquares(knots)
		if err != nil {
			return nil, err
		}
		if n == nmin {
			fp0 = fit.fp
		}

		fpms = fit.fp - f.s
		if math.Abs(fpms) < acc {
			return fit.spline(f.k, true), nil
		}
		if fpms < 0 {
			if n == nmin {
				// the least squares polynomial is smooth enough
				return fit.spline(f.k, true), nil
			}
			searching = false
			break
		}
		if n == nmax {
			// interpolating spline, nothing more can be gained from knots
			return fit.spline(f.k, true), nil
		}

		if n == nmin {
			nplus = 1
		} else {
			npl1 := nplus * 2
			if fpold-fit.fp > acc {
				npl1 = int(float64(nplus) * fpms / (fpold - fit.fp))
			}
			nplus = min(nplus*2, max(npl1, nplus/2, 1))
		}
		fpold = fit.fp

		st.fpint = f.intervalResiduals(knots, fit.res, len(st.interior)+1)
		added := false
		for l := 0; l < nplus; l++ {
			if !f.addKnot(st) {
				break
			}
			added = true
			if len(st.interior)+nmin == nmax {
				st.interior = f.interpolationInterior()
				break
			}
		}
		if !added {
			return fit.spline(f.k, false), nil
		}
	}
	if searching {
		return fit.spline(f.k, false), nil
	}

	return f.searchPenalty(fit, fp0, fpms)
}

// searchPenalty finds the penalty weight p for which the smoothing spline on the current knots has
// fp(p) = s. fp decreases from fp0 (the polynomial) at p = 0 to the least squares residual as p grows.
func (f *fitter) searchPenalty(base *lsqFit, fp0, fpInf float64) (*Spline, error) {
	acc := f.tol * f.s
	jumps := discontinuityJumps(base.knots, f.k)

	p1, f1 := 0., fp0-f.s
	p3, f3 := -1., fpInf
	p := float64(base.coeffs.Len()) / base.diag
	ich1, ich3 := false, false

	var fit *lsqFit
	converged := false
	for iter := 1; iter <= f.maxIter; iter++ {
		var err error
		fit, err = f.penalized(base, jumps, p)
		if err != nil {
			return nil, err
		}
		fpms := fit.fp - f.s
		if math.Abs(fpms) < acc {
			converged = true
			break
		}
		if iter == f.maxIter {
			break
		}

		p2, f2 := p, fpms
		if !ich3 {
			if f2-f3 <= acc {
				// initial p too large
				p3, f3 = p2, f2
				p *= penaltyStep
				if p <= p1 {
					p = p1*0.9 + p2*0.1
				}
				continue
			}
			if f2 < 0 {
				ich3 = true
			}
		}
		if !ich1 {
			if f1-f2 <= acc {
				// initial p too small
				p1, f1 = p2, f2
				p /= penaltyStep
				if p3 < 0 {
					continue
				}
				if p >= p3 {
					p = p2*0.1 + p3*0.9
				}
				continue
			}
			if f2 > 0 {
				ich1 = true
			}
		}
		if f2 >= f1 || f2 <= f3 {
			break
		}
		p, p1, f1, p3, f3 = rationalStep(p1, f1, p2, f2, p3, f3)
	}
	return fit.spline(f.k, converged), nil
}

// intervalResiduals sums the squared residuals per knot interval. A data site on a knot contributes
// half to each neighbouring interval.
func (f *fitter) intervalResiduals(knots, res []float64, nrint int) []float64 {
	n := len(knots)
	fpint := make([]float64, nrint)
	l := f.k + 1
	i := 0
	fpart := 0.
	for it, xi := range f.x {
		onKnot := false
		if l <= n-f.k-2 && xi >= knots[l] {
			onKnot = true
			l++
		}
		term := res[it] * res[it]
		fpart += term
		if onKnot {
			store := term / 2
			fpint[i] = fpart - store
			i++
			fpart = store
		}
	}
	fpint[nrint-1] = fpart
	return fpint
}

// addKnot places a new knot on the middle data site of the interval with the largest residual
// share that still contains data sites. It reports false if there is no such interval.
func (f *fitter) addKnot(st *knotState) bool {
	fpmax := 0.
	number, maxpt, maxbeg := -1, 0, 0
	begin := 0
	for j, npt := range st.nrdata {
		if st.fpint[j] > fpmax && npt != 0 {
			fpmax = st.fpint[j]
			number = j
			maxpt = npt
			maxbeg = begin
		}
		begin += npt + 1
	}
	if number < 0 {
		return false
	}

	ihalf := maxpt/2 + 1
	knot := f.x[maxbeg+ihalf]
	left, right := ihalf-1, maxpt-ihalf

	st.interior = insertAt(st.interior, number, knot)
	st.nrdata = insertAt(st.nrdata, number+1, right)
	st.nrdata[number] = left
	st.fpint = insertAt(st.fpint, number+1, fpmax*float64(right)/float64(maxpt))
	st.fpint[number] = fpmax * float64(left) / float64(maxpt)
	return true
}

func insertAt[T any](s []T, idx int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

// discontinuityJumps returns, for every interior knot, the jumps of the degree-th derivative of each
// B-spline across that knot, scaled to the average knot spacing. Row l has nonzero entries in
// columns l..l+degree+1.
func discontinuityJumps(knots []float64, degree int) *mat.Dense {
	n := len(knots)
	k1 := degree + 1
	k2 := k1 + 1
	nk1 := n - k1
	rows := nk1 - k2 + 1
	jumps := mat.NewDense(rows, nk1, nil)

	// 1-based knot access keeps the index arithmetic readable.
	t := func(i int) float64 { return knots[i-1] }
	fac := float64(nk1-degree) / (t(nk1+1) - t(k1))
	h := make([]float64, 2*k1+1)
	for l := k2; l <= nk1; l++ {
		lmk := l - k1
		for j := 1; j <= k1; j++ {
			h[j] = t(l) - t(l+j-k2)
			h[j+k1] = t(l) - t(l+j)
		}
		lp := lmk
		for j := 1; j <= k2; j++ {
			prod := h[j]
			jk := j
			for i := 1; i <= degree; i++ {
				jk++
				prod *= h[jk] * fac
			}
			jumps.Set(lmk-1, lp-1, (t(lp+k1)-t(lp))/prod)
			lp++
		}
	}
	return jumps
}

// rationalStep fits a rational function through (p1,f1), (p2,f2), (p3,f3) and returns its root,
// along with the bracket updated so that f1 > 0 and f3 < 0. p3 < 0 stands for infinity.
func rationalStep(p1, f1, p2, f2, p3, f3 float64) (float64, float64, float64, float64, float64) {
	var p float64
	if p3 > 0 {
		h1 := f1 * (f2 - f3)
		h2 := f2 * (f3 - f1)
		h3 := f3 * (f1 - f2)
		p = -(p1*p2*h3 + p2*p3*h1 + p3*p1*h2) / (p1*h1 + p2*h2 + p3*h3)
	} else {
		p = (p1*(f1-f3)*f2 - p2*(f2-f3)*f1) / ((f1 - f2) * f3)
	}
	if f2 < 0 {
		p3, f3 = p2, f2
	} else {
		p1, f1 = p2, f2
	}
	return p, p1, f1, p3, f3
}
