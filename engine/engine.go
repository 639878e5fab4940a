// Package engine implements Byzantine-tolerant fusion of redundant sensor readings.
//
// Each timestep flows through Sample Ingest, the Fault Classifier, the Fusion
// Engine and the History Tracker, synchronously and in that order. An Engine
// owns all of its state and performs no locking; concurrent sources go through
// the BatchAligner and Pipeline, which serialize them into one ordered stream.
package engine

import (
	"fmt"
	"math"

	logger "github.com/multiversx/mx-chain-logger-go"
)

var log = logger.GetOrCreate("fusion/engine")

// Stats contains engine counters.
type Stats struct {
	Steps           int64 `json:"steps"`
	Trusted         int64 `json:"trusted"`
	Degraded        int64 `json:"degraded"`
	NoQuorum        int64 `json:"no_quorum"`
	DroppedReadings int64 `json:"dropped_readings"`
	FlagEvents      int64 `json:"flag_events"`
	RecoveryEvents  int64 `json:"recovery_events"`
	Rehabilitations int64 `json:"rehabilitations"`
	LastTimestamp   int64 `json:"last_timestamp"`
}

// Engine fuses one sensor group, one timestep at a time.
type Engine struct {
	cfg        Config
	known      map[SensorID]bool
	classifier *Classifier
	history    *History

	lastEstimate  float64
	hasEstimate   bool
	lastTimestamp int64
	started       bool

	stats Stats
}

// New validates cfg and creates an engine. It fails with ErrInsufficientSensors
// when fewer than 2f+1 sensors are configured.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()

	known := make(map[SensorID]bool, len(cfg.Sensors))
	for _, id := range cfg.Sensors {
		known[id] = true
	}

	return &Engine{
		cfg:        cfg,
		known:      known,
		classifier: NewClassifier(cfg),
		history:    NewHistory(cfg.WindowSize),
	}, nil
}

// Step processes one timestep and appends the result to the history.
// A batch older than the last processed timestep fails with ErrOutOfOrder;
// an equal timestamp is accepted as a re-evaluation.
func (e *Engine) Step(batch Batch) (ConsensusResult, error) {
	if e.started && batch.Timestamp < e.lastTimestamp {
		return ConsensusResult{}, fmt.Errorf("%w: got %d, last %d", ErrOutOfOrder, batch.Timestamp, e.lastTimestamp)
	}

	result, cls, report := e.evaluate(batch, e.classifier)

	for _, rej := range report.Rejected {
		log.Debug("reading dropped", "sensor", rej.SensorID, "timestamp", batch.Timestamp, "error", rej.Err.Error())
	}
	for _, id := range cls.NewlyFlagged {
		log.Debug("sensor flagged", "sensor", id, "timestamp", batch.Timestamp)
	}
	for _, id := range cls.Recovered {
		log.Debug("sensor recovered", "sensor", id, "timestamp", batch.Timestamp)
	}
	for _, id := range cls.Rehabilitated {
		log.Warn("all reporting sensors flagged, trusting lowest deviation sensor",
			"sensor", id, "timestamp", batch.Timestamp)
	}
	if result.Status != StatusTrusted {
		log.Trace("result below quorum", "status", result.Status.String(),
			"timestamp", batch.Timestamp, "contributing", len(result.Contributing), "quorum", e.cfg.Quorum())
	}

	e.history.Append(result)
	e.started = true
	e.lastTimestamp = batch.Timestamp
	if result.Valid() {
		e.lastEstimate = result.Estimate
		e.hasEstimate = true
	}

	e.stats.Steps++
	e.stats.LastTimestamp = batch.Timestamp
	e.stats.DroppedReadings += int64(len(report.Rejected))
	e.stats.FlagEvents += int64(len(cls.NewlyFlagged))
	e.stats.RecoveryEvents += int64(len(cls.Recovered))
	e.stats.Rehabilitations += int64(len(cls.Rehabilitated))
	switch result.Status {
	case StatusTrusted:
		e.stats.Trusted++
	case StatusDegraded:
		e.stats.Degraded++
	case StatusNoQuorum:
		e.stats.NoQuorum++
	}

	return result.Clone(), nil
}

// Evaluate computes the result Step would return without changing any state.
func (e *Engine) Evaluate(batch Batch) ConsensusResult {
	result, _, _ := e.evaluate(batch, e.classifier.clone())
	return result
}

func (e *Engine) evaluate(batch Batch, classifier *Classifier) (ConsensusResult, Classification, IngestReport) {
	report := Ingest(batch, e.known)
	cls := classifier.Classify(e.lastEstimate, e.hasEstimate, report.Readings, e.history)

	values := make([]float64, len(cls.Trusted))
	contributing := make([]SensorID, len(cls.Trusted))
	for i, r := range cls.Trusted {
		values[i] = r.Value
		contributing[i] = r.SensorID
	}
	fused := Fuse(values, e.cfg.MaxFaulty)

	result := ConsensusResult{
		Timestamp:     batch.Timestamp,
		Estimate:      fused.Estimate,
		Status:        fused.Status,
		Contributing:  contributing,
		Flagged:       cloneIDs(cls.Flagged),
		Dropped:       report.DroppedIDs(),
		Rehabilitated: cloneIDs(cls.Rehabilitated),
		Spread:        fused.Spread,
	}
	if result.Flagged == nil {
		result.Flagged = []SensorID{}
	}

	present := make(map[SensorID]bool, len(report.Readings))
	for _, r := range report.Readings {
		present[r.SensorID] = true
	}
	for _, id := range e.cfg.Sensors {
		if !present[id] {
			result.Absent = append(result.Absent, id)
		}
	}

	if fused.Status == StatusNoQuorum {
		result.Estimate = 0
		if e.hasEstimate {
			result.Estimate = e.lastEstimate
		}
	} else {
		result.Deviations = make(map[SensorID]float64, len(report.Readings))
		for _, r := range report.Readings {
			result.Deviations[r.SensorID] = math.Abs(r.Value - result.Estimate)
		}
	}

	result.Agree = result.Status == StatusTrusted && result.Spread <= e.cfg.Tolerance
	result.Confidence = Confidence(result.Status, fused.Used, len(e.cfg.Sensors), result.Spread, e.cfg.Tolerance)

	return result, cls, report
}

// Reset returns the engine to its initial state. Configuration is kept.
func (e *Engine) Reset() {
	e.classifier.Reset()
	e.history.Reset()
	e.lastEstimate = 0
	e.hasEstimate = false
	e.lastTimestamp = 0
	e.started = false
	e.stats = Stats{}
}

// LastEstimate returns the most recent valid estimate.
func (e *Engine) LastEstimate() (float64, bool) {
	return e.lastEstimate, e.hasEstimate
}

// States returns a copy of every sensor state.
func (e *Engine) States() []SensorState {
	return e.classifier.States()
}

// History exposes the result window. It must only be used from the goroutine driving the engine.
func (e *Engine) History() *History {
	return e.history
}

// Trend classifies the estimate slope over the window.
func (e *Engine) Trend() Trend {
	return e.history.Trend(e.cfg.MaxSafeSlope)
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg.clone()
}
