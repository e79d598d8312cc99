// Package config defines the structure of a trajectory smoothing run and reads it from disk.
package config

import (
	"fmt"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/trajsmooth/logging"
	"go.viam.com/trajsmooth/trajectory"
)

// Config describes one smoothing run: the smoothing options, where the waypoints come from and
// where the results go.
type Config struct {
	trajectory.Options

	// Inline waypoints as [x, y] pairs. Mutually exclusive with PathFile.
	Path [][]float64 `json:"path,omitempty"`

	// CSV file of x,y waypoints. Relative paths resolve against the config file's directory.
	PathFile string `json:"path_file,omitempty"`

	// Where to write the trajectory CSV. Empty means stdout. Relative like PathFile.
	Output string `json:"output,omitempty"`

	// Optional image file for a plot of the waypoints and the smoothed path. Relative like PathFile.
	Plot string `json:"plot,omitempty"`

	// Minimum level logged, one of debug, info, warn or error. Debug overrides it.
	LogLevel logging.Level `json:"log_level,omitempty"`
	Debug    bool          `json:"debug,omitempty"`

	// Optional file that receives a copy of the logs. Rotated at LogFileMaxSizeMB.
	LogFile          string `json:"log_file,omitempty"`
	LogFileMaxSizeMB int    `json:"log_file_max_size_mb,omitempty"`

	ConfigFilePath string `json:"-"`
}

// NewDefault returns a config with default smoothing options and no waypoints.
func NewDefault() *Config {
	return &Config{Options: trajectory.NewDefaultOptions()}
}

// Validate ensures all parts of the config are valid. path is the prefix used in error messages.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Options.Validate(); err != nil {
		return newValidationError(path, err)
	}
	if cfg.LogFileMaxSizeMB < 0 {
		return newValidationError(joinPath(path, "log_file_max_size_mb"), errors.Errorf("must be non-negative, got %d", cfg.LogFileMaxSizeMB))
	}
	if len(cfg.Path) > 0 && cfg.PathFile != "" {
		return newValidationError(path, errors.New(`only one of "path" and "path_file" may be set`))
	}
	for i, row := range cfg.Path {
		if len(row) != 2 {
			return newValidationError(joinPath(path, fmt.Sprintf("path.%d", i)), errors.Errorf("expected [x, y], got %d values", len(row)))
		}
	}
	return nil
}

// Waypoints returns the configured waypoints, reading PathFile if inline waypoints are not set.
func (cfg *Config) Waypoints() ([]r2.Point, error) {
	if cfg.PathFile == "" {
		if len(cfg.Path) == 0 {
			return nil, newFieldRequiredError("", "path")
		}
		pts := make([]r2.Point, len(cfg.Path))
		for i, row := range cfg.Path {
			pts[i] = r2.Point{X: row[0], Y: row[1]}
		}
		return pts, nil
	}

	//nolint:gosec
	f, err := os.Open(cfg.PathFile)
	if err != nil {
		return nil, err
	}
	pts, err := trajectory.ReadPathCSV(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", cfg.PathFile)
	}
	return pts, nil
}

func newValidationError(path string, err error) error {
	if path == "" {
		return errors.Wrap(err, "error validating config")
	}
	return errors.Wrapf(err, "error validating %q", path)
}

func newFieldRequiredError(path, field string) error {
	return errors.Errorf("%q is required", joinPath(path, field))
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
