package trajectory

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"go.viam.com/trajsmooth/logging"
	"go.viam.com/trajsmooth/spline"
)

func newTestSmoother(t *testing.T, opts Options) *Smoother {
	t.Helper()
	sm, err := NewSmoother(opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return sm
}

func checkTimes(t *testing.T, traj *Trajectory, final, dt float64) {
	t.Helper()
	test.That(t, len(traj.Times), test.ShouldEqual, len(traj.States))
	test.That(t, traj.Times[0], test.ShouldEqual, 0.)
	for i := 1; i < len(traj.Times); i++ {
		test.That(t, traj.Times[i]-traj.Times[i-1], test.ShouldAlmostEqual, dt, 1e-12)
	}
	last := traj.Duration()
	test.That(t, last, test.ShouldBeLessThanOrEqualTo, final+dt+1e-9)
	test.That(t, last, test.ShouldBeGreaterThan, final-dt)
}

func TestStraightLine(t *testing.T) {
	path := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}}
	traj, err := newTestSmoother(t, Options{DesiredSpeed: 1, SmoothingFactor: 0, Dt: 0.1}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)

	checkTimes(t, traj, 3, 0.1)
	test.That(t, traj.Len(), test.ShouldBeGreaterThanOrEqualTo, 31)
	for i, s := range traj.States {
		test.That(t, s.X, test.ShouldAlmostEqual, traj.Times[i], 1e-9)
		test.That(t, s.Y, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, s.Theta, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, s.XDot, test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, s.YDot, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, s.XDDot, test.ShouldAlmostEqual, 0, 1e-8)
		test.That(t, s.YDDot, test.ShouldAlmostEqual, 0, 1e-8)
	}
}

func TestInterpolatesWaypoints(t *testing.T) {
	// every segment is 5 long, so at speed 5 the waypoints land on whole seconds
	path := []r2.Point{{X: 0, Y: 0}, {X: 3, Y: 4}, {X: 6, Y: 0}, {X: 9, Y: 4}, {X: 12, Y: 0}, {X: 15, Y: 4}}
	original := append([]r2.Point(nil), path...)

	traj, err := newTestSmoother(t, Options{DesiredSpeed: 5, Dt: 0.5}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldResemble, original)
	checkTimes(t, traj, 5, 0.5)

	for j, p := range path {
		s := traj.States[2*j]
		test.That(t, traj.Times[2*j], test.ShouldAlmostEqual, float64(j), 1e-12)
		test.That(t, s.X, test.ShouldAlmostEqual, p.X, 1e-9)
		test.That(t, s.Y, test.ShouldAlmostEqual, p.Y, 1e-9)
	}
}

func wavyPath() []r2.Point {
	path := make([]r2.Point, 0, 12)
	for i := 0; i < 12; i++ {
		x := float64(i)
		path = append(path, r2.Point{X: x, Y: math.Sin(x / 2)})
	}
	return path
}

func TestVelocityMatchesFiniteDifference(t *testing.T) {
	const dt = 0.01
	traj, err := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: dt}).Smooth(wavyPath())
	test.That(t, err, test.ShouldBeNil)

	for i := 1; i < traj.Len()-1; i++ {
		prev, cur, next := traj.States[i-1], traj.States[i], traj.States[i+1]
		test.That(t, (next.X-prev.X)/(2*dt), test.ShouldAlmostEqual, cur.XDot, 10*dt)
		test.That(t, (next.Y-prev.Y)/(2*dt), test.ShouldAlmostEqual, cur.YDot, 10*dt)
		test.That(t, (next.XDot-prev.XDot)/(2*dt), test.ShouldAlmostEqual, cur.XDDot, 10*dt)
		test.That(t, (next.YDot-prev.YDot)/(2*dt), test.ShouldAlmostEqual, cur.YDDot, 10*dt)
	}
}

func TestHeadingMatchesVelocity(t *testing.T) {
	traj, err := newTestSmoother(t, Options{DesiredSpeed: 2, Dt: 0.05}).Smooth(wavyPath())
	test.That(t, err, test.ShouldBeNil)

	for _, s := range traj.States {
		// single argument arctangent is singular at x_dot = 0
		if math.Abs(s.XDot) < 1e-3 {
			continue
		}
		test.That(t, math.Tan(s.Theta), test.ShouldAlmostEqual, s.YDot/s.XDot, 1e-9)
		test.That(t, math.Abs(s.Theta), test.ShouldBeLessThanOrEqualTo, math.Pi/2)
	}
}

func TestHeadingModes(t *testing.T) {
	// driving in -x loses the quadrant with single argument arctangent
	path := []r2.Point{{X: 3, Y: 0}, {X: 2, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}}

	traj, err := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 0.5}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	for _, s := range traj.States {
		test.That(t, s.XDot, test.ShouldAlmostEqual, -1, 1e-9)
		test.That(t, s.Theta, test.ShouldAlmostEqual, 0, 1e-9)
	}

	traj, err = newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 0.5, Heading: HeadingAtan2}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	for _, s := range traj.States {
		test.That(t, math.Abs(s.Theta), test.ShouldAlmostEqual, math.Pi, 1e-9)
	}

	test.That(t, Heading(0, 1, HeadingAtan), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, math.IsNaN(Heading(0, 0, HeadingAtan)), test.ShouldBeTrue)
	test.That(t, Heading(-1, -1, HeadingAtan2), test.ShouldAlmostEqual, -3*math.Pi/4)
}

func TestSmoothingFactor(t *testing.T) {
	path := make([]r2.Point, 0, 30)
	for i := 0; i < 30; i++ {
		x := float64(i) * 0.5
		path = append(path, r2.Point{X: x, Y: 0.05 * math.Sin(13*float64(i))})
	}
	exact, err := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 0.05}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	smoothed, err := newTestSmoother(t, Options{DesiredSpeed: 1, SmoothingFactor: 0.02, Dt: 0.05}).Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smoothed.Len(), test.ShouldEqual, exact.Len())

	maxAbsYDDot := func(traj *Trajectory) float64 {
		m := 0.
		for _, s := range traj.States {
			m = math.Max(m, math.Abs(s.YDDot))
		}
		return m
	}
	test.That(t, maxAbsYDDot(smoothed), test.ShouldBeLessThan, maxAbsYDDot(exact))
	for _, s := range smoothed.States {
		test.That(t, s.Y, test.ShouldAlmostEqual, 0, 0.1)
	}
}

func TestSmoothFailures(t *testing.T) {
	sm := newTestSmoother(t, NewDefaultOptions())

	t.Run("repeated waypoint", func(t *testing.T) {
		_, err := sm.Smooth([]r2.Point{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 1}})
		test.That(t, err, test.ShouldNotBeNil)

		_, err = sm.Smooth([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 1}, {X: 3, Y: 1}})
		test.That(t, errors.Is(err, spline.ErrNotIncreasing), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "cannot fit x(t)")
	})
	t.Run("too few waypoints", func(t *testing.T) {
		_, err := sm.Smooth([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 1}})
		test.That(t, errors.Is(err, spline.ErrTooFewPoints), test.ShouldBeTrue)

		_, err = sm.Smooth([]r2.Point{{X: 0, Y: 0}})
		test.That(t, err, test.ShouldNotBeNil)
	})
	t.Run("non finite waypoint", func(t *testing.T) {
		_, err := sm.Smooth([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: math.Inf(1)}, {X: 3, Y: 0}})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestOptionsValidate(t *testing.T) {
	test.That(t, NewDefaultOptions().Validate(), test.ShouldBeNil)

	for name, opts := range map[string]Options{
		"zero speed":          {DesiredSpeed: 0, Dt: 0.1},
		"nan speed":           {DesiredSpeed: math.NaN(), Dt: 0.1},
		"negative smoothing":  {DesiredSpeed: 1, SmoothingFactor: -1, Dt: 0.1},
		"zero dt":             {DesiredSpeed: 1},
		"infinite dt":         {DesiredSpeed: 1, Dt: math.Inf(1)},
		"bad heading":         {DesiredSpeed: 1, Dt: 0.1, Heading: "compass"},
		"negative iterations": {DesiredSpeed: 1, Dt: 0.1, MaxIterations: -1},
	} {
		t.Run(name, func(t *testing.T) {
			test.That(t, opts.Validate(), test.ShouldNotBeNil)
			_, err := NewSmoother(opts, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	sm := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 0.1})
	test.That(t, sm.Options().Heading, test.ShouldEqual, HeadingAtan)
}

func TestComputeSmoothedTraj(t *testing.T) {
	rows, times, err := ComputeSmoothedTraj([][]float64{{0, 0}, {1, 0}, {2, 0}, {3, 0}}, 1, 0, 0.1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rows), test.ShouldEqual, len(times))
	for _, row := range rows {
		test.That(t, row, test.ShouldHaveLength, RowWidth)
		test.That(t, row[1], test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, row[2], test.ShouldAlmostEqual, 0, 1e-9)
	}

	_, _, err = ComputeSmoothedTraj([][]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}, 1, 0, 0.1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "columns")

	_, _, err = ComputeSmoothedTraj([][]float64{{0, 0}, {0, 0}, {1, 1}}, 1, 0, 0.1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNominalAndSampleTimes(t *testing.T) {
	nominal := NominalTimes([]r2.Point{{X: 0, Y: 0}, {X: 3, Y: 4}, {X: 3, Y: 6}}, 2)
	test.That(t, nominal, test.ShouldResemble, []float64{0, 2.5, 3.5})

	times, err := SampleTimes(1, 0.25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, times, test.ShouldResemble, []float64{0, 0.25, 0.5, 0.75, 1})

	times, err = SampleTimes(1.1, 0.25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, times, test.ShouldResemble, []float64{0, 0.25, 0.5, 0.75, 1, 1.25})

	times, err = SampleTimes(0, 0.25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, times, test.ShouldResemble, []float64{0})
}

func TestSampleTimesLimit(t *testing.T) {
	for _, dt := range []float64{1e-18, 1e-6, math.SmallestNonzeroFloat64} {
		times, err := SampleTimes(10, dt)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "limit is")
		test.That(t, times, test.ShouldBeNil)
	}

	times, err := SampleTimes(99_999, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, times, test.ShouldHaveLength, 100_000)

	// a tiny dt must fail rather than return a truncated trajectory
	path := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}}
	traj, err := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 1e-19}).Smooth(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, traj, test.ShouldBeNil)
}

func TestSmoothingIterationLimitWarns(t *testing.T) {
	path := make([]r2.Point, 0, 30)
	for i := 0; i < 30; i++ {
		path = append(path, r2.Point{X: float64(i) * 0.5, Y: 0.05 * math.Sin(13*float64(i))})
	}

	logger, logs := logging.NewObservedTestLogger(t)
	sm, err := NewSmoother(Options{DesiredSpeed: 1, SmoothingFactor: 0.02, Dt: 0.05}, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = sm.Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("smoothing target not reached").Len(), test.ShouldEqual, 0)

	logger, logs = logging.NewObservedTestLogger(t)
	sm, err = NewSmoother(Options{DesiredSpeed: 1, SmoothingFactor: 0.02, Dt: 0.05, MaxIterations: 1}, logger)
	test.That(t, err, test.ShouldBeNil)
	traj, err := sm.Smooth(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Len(), test.ShouldBeGreaterThan, 0)

	warnings := logs.FilterMessage("smoothing target not reached").All()
	test.That(t, warnings, test.ShouldNotBeEmpty)
	axes := map[interface{}]bool{}
	for _, w := range warnings {
		test.That(t, w.Level, test.ShouldEqual, zapcore.WarnLevel)
		fields := w.ContextMap()
		axes[fields["axis"]] = true
		test.That(t, fields["target"], test.ShouldEqual, 0.02)
	}
	test.That(t, axes["y"], test.ShouldBeTrue)
}

func TestTrajectoryOutputs(t *testing.T) {
	traj, err := newTestSmoother(t, Options{DesiredSpeed: 1, Dt: 0.5}).Smooth([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}})
	test.That(t, err, test.ShouldBeNil)

	st := traj.Stats()
	test.That(t, st.Samples, test.ShouldEqual, traj.Len())
	test.That(t, st.MaxSpeed, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, st.MeanSpeed, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, st.SpeedStdDev, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, st.Length, test.ShouldAlmostEqual, traj.Duration(), 1e-9)

	expected := make([][]float64, traj.Len())
	for i, tm := range traj.Times {
		expected[i] = []float64{tm, 0, 0, 1, 0, 0, 0}
	}
	test.That(t, cmp.Equal(traj.Rows(), expected, cmpopts.EquateApprox(0, 1e-9)), test.ShouldBeTrue)

	test.That(t, traj.Summary(), test.ShouldContainSubstring, "max speed")
	test.That(t, traj.Summary(), test.ShouldContainSubstring, "speed std dev")
	test.That(t, traj.String(), test.ShouldContainSubstring, "X_DDOT")

	var buf bytes.Buffer
	test.That(t, traj.WriteCSV(&buf), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, traj.Len()+1)
	test.That(t, lines[0], test.ShouldEqual, "t,x,y,theta,x_dot,y_dot,x_ddot,y_ddot")
	test.That(t, lines[1], test.ShouldStartWith, "0,")
}

func TestReadPathCSV(t *testing.T) {
	in := "x,y\n# start\n0,0\n1, 0.5\n2,1\n"
	path, err := ReadPathCSV(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldResemble, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0.5}, {X: 2, Y: 1}})

	_, err = ReadPathCSV(strings.NewReader("0,0\n1,a\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2 is not numeric")

	_, err = ReadPathCSV(strings.NewReader("0,0,0\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 1 has 3 fields")

	// a first record with one numeric field is a typo, not a header
	_, err = ReadPathCSV(strings.NewReader("1,O\n2,3\n3,4\n4,5\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 1 is not numeric")

	// a header is only skipped as the first record
	_, err = ReadPathCSV(strings.NewReader("0,0\nx,y\n1,1\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2 is not numeric")

	// line numbers count comments and blank lines
	_, err = ReadPathCSV(strings.NewReader("# loop\nx,y\n\n0,0\n# turn\n1,1\n2,b\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 7 is not numeric")

	path, err = ReadPathCSV(strings.NewReader("# loop\nx,y\n\n0,0\n# turn\n1,1\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldResemble, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})
}
