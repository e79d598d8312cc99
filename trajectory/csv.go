package trajectory

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

var csvHeader = []string{"t", "x", "y", "theta", "x_dot", "y_dot", "x_ddot", "y_ddot"}

// WriteCSV writes the trajectory with a header row and one row per sample, time first.
func (traj *Trajectory) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	record := make([]string, len(csvHeader))
	for i, s := range traj.States {
		record[0] = strconv.FormatFloat(traj.Times[i], 'g', -1, 64)
		for j, v := range s.Row() {
			record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPathCSV reads waypoints from two column x,y records. Lines starting with '#' are skipped, as is
// a first record with no numeric field, which is taken as a header. Errors name the file line.
func ReadPathCSV(r io.Reader) ([]r2.Point, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var path []r2.Point
	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading path")
		}
		line, _ := cr.FieldPos(0)
		if len(record) != 2 {
			return nil, errors.Errorf("path line %d has %d fields, expected 2", line, len(record))
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if errX != nil && errY != nil && first {
			continue
		}
		if errX != nil || errY != nil {
			return nil, errors.Errorf("path line %d is not numeric: %q", line, record)
		}
		path = append(path, r2.Point{X: x, Y: y})
	}
	return path, nil
}
