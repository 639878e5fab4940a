package engine

import (
	"fmt"
	"math"
	"sort"
)

// SensorID identifies one redundant sensor.
type SensorID int

// SensorReading is a single accepted measurement. It is never modified after ingest.
type SensorReading struct {
	SensorID  SensorID `json:"sensor_id"`
	Timestamp int64    `json:"timestamp"`
	Value     float64  `json:"value"`
}

// Sample is one sensor's value inside a Batch.
type Sample struct {
	SensorID SensorID `json:"sensor_id"`
	Value    float64  `json:"value"`
}

// Batch groups every sample reported for one timestep.
type Batch struct {
	Timestamp int64    `json:"timestamp"`
	Samples   []Sample `json:"samples"`
}

// ResultStatus tells consumers how far an estimate can be trusted.
type ResultStatus int

const (
	StatusTrusted ResultStatus = iota
	StatusDegraded
	StatusNoQuorum
)

func (s ResultStatus) String() string {
	switch s {
	case StatusTrusted:
		return "trusted"
	case StatusDegraded:
		return "degraded"
	case StatusNoQuorum:
		return "no_quorum"
	default:
		return "unknown"
	}
}

// ParseResultStatus is the inverse of ResultStatus.String.
func ParseResultStatus(s string) (ResultStatus, error) {
	switch s {
	case "trusted":
		return StatusTrusted, nil
	case "degraded":
		return StatusDegraded, nil
	case "no_quorum":
		return StatusNoQuorum, nil
	default:
		return StatusNoQuorum, fmt.Errorf("unknown result status %q", s)
	}
}

// MarshalText renders the status by name in JSON and TOML.
func (s ResultStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *ResultStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseResultStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SensorState is the classifier's view of one sensor.
type SensorState struct {
	SensorID          SensorID `json:"sensor_id"`
	ConsecutiveFaults int      `json:"consecutive_faults"`
	ConsecutiveOK     int      `json:"consecutive_ok"`
	Flagged           bool     `json:"flagged"`
	Violations        int64    `json:"violations"`
	FlagCount         int64    `json:"flag_count"`
}

// ConsensusResult is the outcome of one timestep.
// Slices are sorted by SensorID and owned by the result.
type ConsensusResult struct {
	Timestamp     int64                `json:"timestamp"`
	Estimate      float64              `json:"estimate"`
	Status        ResultStatus         `json:"status"`
	Contributing  []SensorID           `json:"contributing_sensors"`
	Flagged       []SensorID           `json:"flagged_sensors"`
	Absent        []SensorID           `json:"absent_sensors,omitempty"`
	Dropped       []SensorID           `json:"dropped_sensors,omitempty"`
	Rehabilitated []SensorID           `json:"rehabilitated_sensors,omitempty"`
	Spread        float64              `json:"spread"`
	Agree         bool                 `json:"agree"`
	Confidence    float64              `json:"confidence"`
	Deviations    map[SensorID]float64 `json:"deviations,omitempty"`
}

// Valid reports whether the estimate was computed from this timestep's readings.
func (r ConsensusResult) Valid() bool {
	return r.Status != StatusNoQuorum
}

// Trusted reports whether the estimate met the 2f+1 quorum.
func (r ConsensusResult) Trusted() bool {
	return r.Status == StatusTrusted
}

// IsFlagged reports whether id was excluded as faulty in this result.
func (r ConsensusResult) IsFlagged(id SensorID) bool {
	return containsSensor(r.Flagged, id)
}

// IsContributing reports whether id took part in the estimate.
func (r ConsensusResult) IsContributing(id SensorID) bool {
	return containsSensor(r.Contributing, id)
}

// Clone returns a deep copy so callers can keep results past the next step.
func (r ConsensusResult) Clone() ConsensusResult {
	out := r
	out.Contributing = cloneIDs(r.Contributing)
	out.Flagged = cloneIDs(r.Flagged)
	out.Absent = cloneIDs(r.Absent)
	out.Dropped = cloneIDs(r.Dropped)
	out.Rehabilitated = cloneIDs(r.Rehabilitated)
	if r.Deviations != nil {
		out.Deviations = make(map[SensorID]float64, len(r.Deviations))
		for id, d := range r.Deviations {
			out.Deviations[id] = d
		}
	}
	return out
}

func containsSensor(ids []SensorID, id SensorID) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

func cloneIDs(ids []SensorID) []SensorID {
	if ids == nil {
		return nil
	}
	out := make([]SensorID, len(ids))
	copy(out, ids)
	return out
}

func sortIDs(ids []SensorID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
