package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/trajsmooth/config"
	"go.viam.com/trajsmooth/internal/trajplot"
	"go.viam.com/trajsmooth/logging"
	"go.viam.com/trajsmooth/trajectory"
)

const (
	flagConfig    = "config"
	flagPath      = "path"
	flagSpeed     = "speed"
	flagAlpha     = "alpha"
	flagDt        = "dt"
	flagHeading   = "heading"
	flagOut       = "out"
	flagPlot      = "plot"
	flagSpeedPlot = "speed-plot"
	flagTable     = "table"
	flagDebug     = "debug"
	flagLogFile   = "log-file"
	flagLogLevel  = "log-level"

	defaultLogFileMaxSizeMB = 10
)

// NewApp returns the trajsmooth command line app writing results to out and logs to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "trajsmooth",
		Usage:           "turn 2D waypoints into a smooth time-sampled trajectory",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Commands: []*cli.Command{
			{
				Name:      "smooth",
				Usage:     "fit cubic splines through a path and sample them at a fixed timestep",
				UsageText: "trajsmooth smooth [--config FILE] [--path CSV] [other options]",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load configuration from `FILE`",
					},
					&cli.PathFlag{
						Name:  flagPath,
						Usage: "read x,y waypoints from `CSV`, replacing any configured path",
					},
					&cli.Float64Flag{
						Name:  flagSpeed,
						Usage: "desired speed used to assign nominal times to waypoints",
					},
					&cli.Float64Flag{
						Name:  flagAlpha,
						Usage: "smoothing factor, 0 interpolates every waypoint",
					},
					&cli.Float64Flag{
						Name:  flagDt,
						Usage: "output sampling interval in seconds",
					},
					&cli.StringFlag{
						Name:  flagHeading,
						Usage: fmt.Sprintf("heading computation, %q or %q", trajectory.HeadingAtan, trajectory.HeadingAtan2),
					},
					&cli.PathFlag{
						Name:  flagOut,
						Usage: "write the trajectory CSV to `FILE` instead of stdout",
					},
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "save a plot of the waypoints and smoothed path to `FILE`",
					},
					&cli.PathFlag{
						Name:  flagSpeedPlot,
						Usage: "save a plot of speed and acceleration over time to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagTable,
						Usage: "print every sample as a table",
					},
					&cli.PathFlag{
						Name:  flagLogFile,
						Usage: "also write logs to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagLogLevel,
						Usage: "minimum log `LEVEL`: debug, info, warn or error",
					},
					&cli.BoolFlag{
						Name:    flagDebug,
						Aliases: []string{"vvv"},
						Usage:   "enable debug logging, overriding --log-level",
					},
				},
				Action: SmoothAction,
			},
		},
	}
}

// SmoothAction is the corresponding action for 'smooth'.
func SmoothAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := logging.NewBlankLogger("trajsmooth")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if cfg.LogFile != "" {
		maxSize := cfg.LogFileMaxSizeMB
		if maxSize == 0 {
			maxSize = defaultLogFileMaxSizeMB
		}
		fileAppender := logging.NewFileAppender(cfg.LogFile, maxSize)
		logger.AddAppender(fileAppender)
		defer func() {
			err = multierr.Combine(err, fileAppender.Close())
		}()
	}
	level := cfg.LogLevel
	if cfg.Debug {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	prevGlobal := logging.Global()
	logging.ReplaceGlobal(logger)
	defer logging.ReplaceGlobal(prevGlobal)

	path, err := cfg.Waypoints()
	if err != nil {
		return err
	}
	sm, err := trajectory.NewSmoother(cfg.Options, logger.Sublogger("smoother"))
	if err != nil {
		return err
	}
	traj, err := sm.Smooth(path)
	if err != nil {
		return err
	}

	summaryOut := c.App.Writer
	if cfg.Output == "" {
		if err := traj.WriteCSV(c.App.Writer); err != nil {
			return err
		}
		summaryOut = c.App.ErrWriter
	} else {
		if err := writeCSVFile(traj, cfg.Output); err != nil {
			return err
		}
		logger.Infow("wrote trajectory", "file", cfg.Output, "samples", traj.Len())
	}

	if cfg.Plot != "" {
		if err := trajplot.Render(path, traj, cfg.Plot); err != nil {
			return err
		}
		logger.Infow("wrote plot", "file", cfg.Plot)
	}
	if file := c.Path(flagSpeedPlot); file != "" {
		if err := trajplot.RenderSpeed(traj, file); err != nil {
			return err
		}
		logger.Infow("wrote speed plot", "file", file)
	}

	if c.Bool(flagTable) {
		fmt.Fprintln(summaryOut, traj.String())
	}
	fmt.Fprintln(summaryOut, traj.Summary())
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.NewDefault()
	if file := c.Path(flagConfig); file != "" {
		var err error
		cfg, err = config.Read(file)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read config %s", file)
		}
	}

	if c.IsSet(flagPath) {
		cfg.Path = nil
		cfg.PathFile = c.Path(flagPath)
	}
	if c.IsSet(flagSpeed) {
		cfg.DesiredSpeed = c.Float64(flagSpeed)
	}
	if c.IsSet(flagAlpha) {
		cfg.SmoothingFactor = c.Float64(flagAlpha)
	}
	if c.IsSet(flagDt) {
		cfg.Dt = c.Float64(flagDt)
	}
	if c.IsSet(flagHeading) {
		cfg.Heading = trajectory.HeadingMode(c.String(flagHeading))
	}
	if c.IsSet(flagOut) {
		cfg.Output = c.Path(flagOut)
	}
	if c.IsSet(flagPlot) {
		cfg.Plot = c.Path(flagPlot)
	}
	if c.IsSet(flagLogFile) {
		cfg.LogFile = c.Path(flagLogFile)
	}
	if c.IsSet(flagLogLevel) {
		level, err := logging.LevelFromString(c.String(flagLogLevel))
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	if c.Bool(flagDebug) {
		cfg.Debug = true
	}

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeCSVFile(traj *trajectory.Trajectory, filename string) (err error) {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(traj.WriteCSV(f), "writing %s", filename)
}
