package sim

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

const (
	colTimestamp   = "ts"
	colGroundTruth = "ground_truth"
)

// WriteCSV writes the dataset as "ts,s0,...,sN,ground_truth" with three
// decimals. Missing readings are written as empty cells.
func WriteCSV(w io.Writer, d *Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(d.Sensors)+2)
	header = append(header, colTimestamp)
	for _, id := range d.Sensors {
		header = append(header, fmt.Sprintf("s%d", id))
	}
	header = append(header, colGroundTruth)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, row := range d.Rows {
		record[0] = strconv.FormatInt(row.Timestamp, 10)
		for j, v := range row.Values {
			if math.IsNaN(v) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(v, 'f', 3, 64)
			}
		}
		record[len(record)-1] = strconv.FormatFloat(row.GroundTruth, 'f', 3, 64)
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a dataset written by WriteCSV. Sensor columns are named
// "s<id>"; an empty cell is a missing reading.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidDataset)
		}
		return nil, err
	}
	if len(header) < 3 || header[0] != colTimestamp || header[len(header)-1] != colGroundTruth {
		return nil, fmt.Errorf("%w: header must be ts,s<id>...,ground_truth", ErrInvalidDataset)
	}

	ds := &Dataset{Sensors: make([]engine.SensorID, 0, len(header)-2)}
	for _, col := range header[1 : len(header)-1] {
		id, err := strconv.Atoi(strings.TrimPrefix(col, "s"))
		if err != nil || !strings.HasPrefix(col, "s") || id < 0 {
			return nil, fmt.Errorf("%w: bad sensor column %q", ErrInvalidDataset, col)
		}
		ds.Sensors = append(ds.Sensors, engine.SensorID(id))
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidDataset, line, err)
		}

		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad timestamp %q", ErrInvalidDataset, line, record[0])
		}
		row := Row{Timestamp: ts, Values: make([]float64, len(ds.Sensors))}
		for j, cell := range record[1 : len(record)-1] {
			if cell == "" {
				row.Values[j] = math.NaN()
				continue
			}
			if row.Values[j], err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: bad value %q", ErrInvalidDataset, line, cell)
			}
		}
		if row.GroundTruth, err = strconv.ParseFloat(record[len(record)-1], 64); err != nil {
			return nil, fmt.Errorf("%w: line %d: bad ground truth %q", ErrInvalidDataset, line, record[len(record)-1])
		}
		ds.Rows = append(ds.Rows, row)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
