package trajectory

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// RowWidth is the number of columns in a trajectory row.
const RowWidth = 7

// State is a single sample of a smoothed trajectory.
type State struct {
	X     float64
	Y     float64
	Theta float64 // heading, see HeadingMode
	XDot  float64
	YDot  float64
	XDDot float64
	YDDot float64
}

// Row returns the state as (x, y, heading, x_dot, y_dot, x_ddot, y_ddot).
func (s State) Row() []float64 {
	return []float64{s.X, s.Y, s.Theta, s.XDot, s.YDot, s.XDDot, s.YDDot}
}

// Speed returns the magnitude of the velocity.
func (s State) Speed() float64 {
	return math.Hypot(s.XDot, s.YDot)
}

// Acceleration returns the magnitude of the acceleration.
func (s State) Acceleration() float64 {
	return math.Hypot(s.XDDot, s.YDDot)
}

// Trajectory is a uniformly time-sampled sequence of states. States[i] is the state at Times[i].
type Trajectory struct {
	States []State
	Times  []float64
}

// Len returns the number of samples.
func (traj *Trajectory) Len() int {
	return len(traj.States)
}

// Duration returns the time of the last sample.
func (traj *Trajectory) Duration() float64 {
	if len(traj.Times) == 0 {
		return 0
	}
	return traj.Times[len(traj.Times)-1]
}

// Rows returns the trajectory as an N x 7 matrix in State.Row column order.
func (traj *Trajectory) Rows() [][]float64 {
	rows := make([][]float64, len(traj.States))
	for i, s := range traj.States {
		rows[i] = s.Row()
	}
	return rows
}

// Stats summarizes a trajectory.
type Stats struct {
	Samples         int
	Duration        float64
	Length          float64
	MaxSpeed        float64
	MeanSpeed       float64
	SpeedStdDev     float64 // population standard deviation
	MaxAcceleration float64
}

// Stats computes summary statistics. Length is the polyline length through the sampled positions.
func (traj *Trajectory) Stats() Stats {
	st := Stats{Samples: traj.Len(), Duration: traj.Duration()}
	if st.Samples == 0 {
		return st
	}

	speeds := make([]float64, st.Samples)
	accels := make([]float64, st.Samples)
	for i, s := range traj.States {
		speeds[i] = s.Speed()
		accels[i] = s.Acceleration()
		if i > 0 {
			prev := traj.States[i-1]
			st.Length += math.Hypot(s.X-prev.X, s.Y-prev.Y)
		}
	}
	st.MaxSpeed = floats.Max(speeds)
	st.MaxAcceleration = floats.Max(accels)

	mean, err := stats.Mean(speeds)
	sd, err2 := stats.StandardDeviation(speeds)
	if err == nil && err2 == nil {
		st.MeanSpeed = mean
		st.SpeedStdDev = sd
	}
	return st
}

// String prints out a table of every sample, with columns of time, position, heading, velocity and
// acceleration.
func (traj *Trajectory) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "t", "x", "y", "theta", "x_dot", "y_dot", "x_ddot", "y_ddot"})
	for i, s := range traj.States {
		row := table.Row{i, format(traj.Times[i])}
		for _, v := range s.Row() {
			row = append(row, format(v))
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// Summary prints the Stats as a two column table.
func (traj *Trajectory) Summary() string {
	st := traj.Stats()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"samples", st.Samples},
		{"duration (s)", format(st.Duration)},
		{"length", format(st.Length)},
		{"max speed", format(st.MaxSpeed)},
		{"mean speed", format(st.MeanSpeed)},
		{"speed std dev", format(st.SpeedStdDev)},
		{"max acceleration", format(st.MaxAcceleration)},
	})
	return t.Render()
}

func format(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
