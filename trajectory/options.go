package trajectory

import (
	"math"

	"github.com/pkg/errors"
)

// HeadingMode selects how the heading of a sample is derived from its velocity.
type HeadingMode string

const (
	// HeadingAtan computes atan(y_dot / x_dot). The quadrant is lost, so a robot driving in -x
	// reports the same heading as one driving in +x, and x_dot = 0 gives +-pi/2 or NaN.
	HeadingAtan HeadingMode = "atan"
	// HeadingAtan2 computes atan2(y_dot, x_dot), which keeps the full (-pi, pi] range.
	HeadingAtan2 HeadingMode = "atan2"
)

// default values for smoothing options.
const (
	// nominal speed used to assign times to waypoints, in units per second.
	defaultDesiredSpeed = 1.0

	// zero interpolates every waypoint.
	defaultSmoothingFactor = 0.

	// sampling interval of the output, in seconds.
	defaultDt = 0.1

	// the x(t), y(t) splines are cubic so acceleration is continuous.
	splineDegree = 3
)

// Options control how a path is turned into a trajectory.
type Options struct {
	// Speed used only to turn waypoint spacing into nominal time. It is not enforced on the output.
	DesiredSpeed float64 `json:"desired_speed"`

	// Target weighted sum of squared residuals of each spline fit. Larger is smoother.
	SmoothingFactor float64 `json:"smoothing_factor"`

	// Output sampling interval.
	Dt float64 `json:"dt"`

	// Defaults to HeadingAtan when empty.
	Heading HeadingMode `json:"heading,omitempty"`

	// Bound on the penalty updates of a smoothing fit. Zero uses the fitting default. A fit that
	// runs out of updates is still used, and a warning is logged.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// NewDefaultOptions returns options with every field at its default.
func NewDefaultOptions() Options {
	return Options{
		DesiredSpeed:    defaultDesiredSpeed,
		SmoothingFactor: defaultSmoothingFactor,
		Dt:              defaultDt,
		Heading:         HeadingAtan,
	}
}

// Validate ensures all parts of the options are valid.
func (o Options) Validate() error {
	if !isPositive(o.DesiredSpeed) {
		return errors.Errorf("desired_speed must be positive and finite, got %v", o.DesiredSpeed)
	}
	if math.IsNaN(o.SmoothingFactor) || math.IsInf(o.SmoothingFactor, 0) || o.SmoothingFactor < 0 {
		return errors.Errorf("smoothing_factor must be non-negative and finite, got %v", o.SmoothingFactor)
	}
	if !isPositive(o.Dt) {
		return errors.Errorf("dt must be positive and finite, got %v", o.Dt)
	}
	if o.MaxIterations < 0 {
		return errors.Errorf("max_iterations must be non-negative, got %d", o.MaxIterations)
	}
	switch o.Heading {
	case "", HeadingAtan, HeadingAtan2:
	default:
		return errors.Errorf("heading must be %q or %q, got %q", HeadingAtan, HeadingAtan2, o.Heading)
	}
	return nil
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
