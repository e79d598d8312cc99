// Package trajplot draws smoothed trajectories for visual inspection.
package trajplot

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/trajsmooth/logging"
	"go.viam.com/trajsmooth/trajectory"
)

const (
	width  = 8 * vg.Inch
	height = 8 * vg.Inch
)

var (
	waypointColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	pathColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	accelColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// Render draws the waypoints as markers and the smoothed path as a line in the x-y plane, and saves
// the plot to filename. The image format follows the file extension.
func Render(path []r2.Point, traj *trajectory.Trajectory, filename string) error {
	if traj == nil || traj.Len() == 0 {
		return errors.New("nothing to plot: trajectory is empty")
	}

	p := plot.New()
	p.Title.Text = "Smoothed path"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(plotter.NewGrid())

	pathPts := make(plotter.XYs, traj.Len())
	for i, s := range traj.States {
		pathPts[i] = plotter.XY{X: s.X, Y: s.Y}
	}
	line, err := plotter.NewLine(pathPts)
	if err != nil {
		return errors.Wrap(err, "smoothed path")
	}
	line.Color = pathColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("smoothed", line)

	if len(path) > 0 {
		wayPts := make(plotter.XYs, len(path))
		for i, pt := range path {
			wayPts[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		scatter, err := plotter.NewScatter(wayPts)
		if err != nil {
			return errors.Wrap(err, "waypoints")
		}
		scatter.GlyphStyle.Color = waypointColor
		scatter.GlyphStyle.Radius = vg.Points(3)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
		p.Legend.Add("waypoints", scatter)
	}

	equalAxes(p)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return save(p, width, height, filename)
}

// RenderSpeed draws speed and acceleration magnitude against time and saves the plot to filename.
func RenderSpeed(traj *trajectory.Trajectory, filename string) error {
	if traj == nil || traj.Len() == 0 {
		return errors.New("nothing to plot: trajectory is empty")
	}

	p := plot.New()
	p.Title.Text = "Velocity profile"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Magnitude"
	p.Add(plotter.NewGrid())

	speed := make(plotter.XYs, traj.Len())
	accel := make(plotter.XYs, traj.Len())
	for i, s := range traj.States {
		speed[i] = plotter.XY{X: traj.Times[i], Y: s.Speed()}
		accel[i] = plotter.XY{X: traj.Times[i], Y: s.Acceleration()}
	}

	speedLine, err := plotter.NewLine(speed)
	if err != nil {
		return errors.Wrap(err, "speed")
	}
	speedLine.Color = pathColor
	speedLine.Width = vg.Points(1.5)
	p.Add(speedLine)
	p.Legend.Add("speed", speedLine)

	accelLine, err := plotter.NewLine(accel)
	if err != nil {
		return errors.Wrap(err, "acceleration")
	}
	accelLine.Color = accelColor
	accelLine.Width = vg.Points(1)
	accelLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(accelLine)
	p.Legend.Add("acceleration", accelLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return save(p, 14*vg.Inch, 6*vg.Inch, filename)
}

// equalAxes widens the narrower axis so one unit of x and y span the same length on a square canvas.
func equalAxes(p *plot.Plot) {
	xSpan := p.X.Max - p.X.Min
	ySpan := p.Y.Max - p.Y.Min
	switch {
	case xSpan > ySpan:
		mid := (p.Y.Max + p.Y.Min) / 2
		p.Y.Min, p.Y.Max = mid-xSpan/2, mid+xSpan/2
	case ySpan > xSpan:
		mid := (p.X.Max + p.X.Min) / 2
		p.X.Min, p.X.Max = mid-ySpan/2, mid+ySpan/2
	}
}

func save(p *plot.Plot, w, h vg.Length, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "failed to create output dir")
		}
	}
	if err := p.Save(w, h, filename); err != nil {
		return errors.Wrapf(err, "save plot %s", filename)
	}
	logging.Global().Sublogger("trajplot").Debugw("saved plot", "file", filename, "width", w, "height", h)
	return nil
}
