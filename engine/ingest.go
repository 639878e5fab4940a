package engine

import (
	"fmt"
	"sort"
)

// Rejection records a sample dropped during ingest.
type Rejection struct {
	SensorID SensorID
	Err      error
}

// IngestReport is the validated view of one batch.
type IngestReport struct {
	Timestamp int64
	Readings  []SensorReading // sorted by SensorID
	Rejected  []Rejection
}

// DroppedIDs returns the sorted, de-duplicated sensors whose samples were rejected.
func (r IngestReport) DroppedIDs() []SensorID {
	if len(r.Rejected) == 0 {
		return nil
	}
	seen := make(map[SensorID]bool, len(r.Rejected))
	ids := make([]SensorID, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		if !seen[rej.SensorID] {
			seen[rej.SensorID] = true
			ids = append(ids, rej.SensorID)
		}
	}
	sortIDs(ids)
	return ids
}

// Ingest turns a batch into immutable readings. Samples from unknown sensors,
// non-finite values and repeated sensors are rejected; the first sample of a
// sensor decides, later ones are duplicates.
func Ingest(batch Batch, known map[SensorID]bool) IngestReport {
	report := IngestReport{
		Timestamp: batch.Timestamp,
		Readings:  make([]SensorReading, 0, len(batch.Samples)),
	}

	seen := make(map[SensorID]bool, len(batch.Samples))
	for _, s := range batch.Samples {
		var err error
		switch {
		case !known[s.SensorID]:
			err = fmt.Errorf("%w: unknown sensor %d", ErrMalformedReading, s.SensorID)
		case seen[s.SensorID]:
			err = fmt.Errorf("%w: %w: sensor %d at %d", ErrMalformedReading, ErrDuplicateReading, s.SensorID, batch.Timestamp)
		case !isFinite(s.Value):
			err = fmt.Errorf("%w: sensor %d reported non-finite value %v", ErrMalformedReading, s.SensorID, s.Value)
		}
		seen[s.SensorID] = true

		if err != nil {
			report.Rejected = append(report.Rejected, Rejection{SensorID: s.SensorID, Err: err})
			continue
		}

		report.Readings = append(report.Readings, SensorReading{
			SensorID:  s.SensorID,
			Timestamp: batch.Timestamp,
			Value:     s.Value,
		})
	}

	sort.Slice(report.Readings, func(i, j int) bool {
		return report.Readings[i].SensorID < report.Readings[j].SensorID
	})

	return report
}
