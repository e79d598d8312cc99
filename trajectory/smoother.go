// Package trajectory turns a coarse sequence of 2D waypoints into a smooth, uniformly time-sampled
// trajectory with heading, velocity and acceleration, for consumption by a wheeled-robot
// trajectory tracker.
//
// Waypoints are given nominal times from their spacing and a desired speed, x(t) and y(t) are fit
// independently with cubic smoothing splines, and the splines and their first two derivatives are
// sampled at a fixed timestep.
package trajectory

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/trajsmooth/logging"
	"go.viam.com/trajsmooth/spline"
)

// Smoother computes trajectories from paths using a fixed set of options.
type Smoother struct {
	opts   Options
	logger logging.Logger
}

// NewSmoother returns a Smoother for the given options.
func NewSmoother(opts Options, logger logging.Logger) (*Smoother, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Heading == "" {
		opts.Heading = HeadingAtan
	}
	return &Smoother{opts: opts, logger: logger}, nil
}

// Options returns the options the smoother was built with.
func (sm *Smoother) Options() Options {
	return sm.opts
}

// Smooth computes the trajectory for path using the package defaults for heading.
func Smooth(path []r2.Point, desiredSpeed, smoothingFactor, dt float64) (*Trajectory, error) {
	sm, err := NewSmoother(Options{
		DesiredSpeed:    desiredSpeed,
		SmoothingFactor: smoothingFactor,
		Dt:              dt,
		Heading:         HeadingAtan,
	}, logging.Global().Sublogger("trajectory"))
	if err != nil {
		return nil, err
	}
	return sm.Smooth(path)
}

// ComputeSmoothedTraj is the array form of Smooth. Each row of path is an (x, y) pair. It returns
// an N x 7 matrix of (x, y, heading, x_dot, y_dot, x_ddot, y_ddot) rows and the sample times.
func ComputeSmoothedTraj(path [][]float64, vDes, alpha, dt float64) ([][]float64, []float64, error) {
	pts := make([]r2.Point, len(path))
	for i, row := range path {
		if len(row) != 2 {
			return nil, nil, errors.Errorf("path row %d has %d columns, expected 2", i, len(row))
		}
		pts[i] = r2.Point{X: row[0], Y: row[1]}
	}
	traj, err := Smooth(pts, vDes, alpha, dt)
	if err != nil {
		return nil, nil, err
	}
	return traj.Rows(), traj.Times, nil
}

// Smooth fits cubic splines x(t) and y(t) through path and samples them every Dt seconds from 0
// through the last nominal time. The path is not modified. Fewer than four waypoints, or two
// identical consecutive waypoints, cause the fit to fail.
func (sm *Smoother) Smooth(path []r2.Point) (*Trajectory, error) {
	if len(path) < 2 {
		return nil, errors.Errorf("path needs at least 2 waypoints, got %d", len(path))
	}

	nominal := NominalTimes(path, sm.opts.DesiredSpeed)
	xs := make([]float64, len(path))
	ys := make([]float64, len(path))
	for i, p := range path {
		xs[i] = p.X
		ys[i] = p.Y
	}

	var fitOpts []spline.FitOption
	if sm.opts.MaxIterations > 0 {
		fitOpts = append(fitOpts, spline.WithMaxIterations(sm.opts.MaxIterations))
	}
	splX, err := spline.Fit(nominal, xs, splineDegree, sm.opts.SmoothingFactor, fitOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot fit x(t)")
	}
	splY, err := spline.Fit(nominal, ys, splineDegree, sm.opts.SmoothingFactor, fitOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot fit y(t)")
	}
	sm.checkResidual("x", splX)
	sm.checkResidual("y", splY)

	times, err := SampleTimes(nominal[len(nominal)-1], sm.opts.Dt)
	if err != nil {
		return nil, err
	}
	x, xDot, xDDot, err := evaluateDerivatives(splX, times)
	if err != nil {
		return nil, err
	}
	y, yDot, yDDot, err := evaluateDerivatives(splY, times)
	if err != nil {
		return nil, err
	}

	states := make([]State, len(times))
	for i := range times {
		states[i] = State{
			X:     x[i],
			Y:     y[i],
			Theta: Heading(xDot[i], yDot[i], sm.opts.Heading),
			XDot:  xDot[i],
			YDot:  yDot[i],
			XDDot: xDDot[i],
			YDDot: yDDot[i],
		}
	}

	sm.logger.Debugw("smoothed path",
		"waypoints", len(path),
		"nominal_duration", nominal[len(nominal)-1],
		"samples", len(times),
		"x_knots", len(splX.Knots()),
		"y_knots", len(splY.Knots()),
	)
	return &Trajectory{States: states, Times: times}, nil
}

// checkResidual warns when a smoothing fit stopped short of its residual target, which happens when
// the penalty search runs out of iterations.
func (sm *Smoother) checkResidual(axis string, s *spline.Spline) {
	if !s.Converged() {
		sm.logger.Warnw("smoothing target not reached",
			"axis", axis, "residual", s.Residual(), "target", sm.opts.SmoothingFactor)
	}
}

func evaluateDerivatives(s *spline.Spline, times []float64) ([]float64, []float64, []float64, error) {
	var out [3][]float64
	for der := range out {
		vals, err := s.Evaluate(times, der)
		if err != nil {
			return nil, nil, nil, err
		}
		out[der] = vals
	}
	return out[0], out[1], out[2], nil
}

// NominalTimes assigns each waypoint the time at which it is reached when driving the polyline at
// desiredSpeed, starting from 0.
func NominalTimes(path []r2.Point, desiredSpeed float64) []float64 {
	durations := make([]float64, len(path))
	for i := 1; i < len(path); i++ {
		durations[i] = path[i].Sub(path[i-1]).Norm() / desiredSpeed
	}
	return floats.CumSum(make([]float64, len(path)), durations)
}

// MaxSamples bounds the length of a sampled trajectory.
const MaxSamples = 10_000_000

// SampleTimes returns 0, dt, 2*dt, ... covering [0, final]. Like a half-open range up to final+dt,
// the last sample may land anywhere in (final-dt, final+dt). More than MaxSamples samples is an
// error.
func SampleTimes(final, dt float64) ([]float64, error) {
	count := math.Ceil((final + dt) / dt)
	if math.IsNaN(count) || count < 1 || count > MaxSamples {
		return nil, errors.Errorf("sampling %v seconds every %v seconds needs %v samples, limit is %d",
			final, dt, count, MaxSamples)
	}
	times := make([]float64, int(count))
	for i := range times {
		times[i] = float64(i) * dt
	}
	return times, nil
}

// Heading returns the heading implied by a velocity.
func Heading(xDot, yDot float64, mode HeadingMode) float64 {
	if mode == HeadingAtan2 {
		return math.Atan2(yDot, xDot)
	}
	return math.Atan(yDot / xDot)
}
