package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

// Scoring methods.
const (
	MethodEngine = "engine"
	MethodMedian = "median"
	MethodMean   = "mean"
)

// DefaultThresholdPct is the allowed error as a fraction of the first ground truth.
const DefaultThresholdPct = 0.02

// MethodScore summarizes one estimator over a dataset.
type MethodScore struct {
	Method          string  `json:"method"`
	MaxError        float64 `json:"max_error"`
	MeanError       float64 `json:"mean_error"`
	WithinThreshold bool    `json:"within_threshold"`
	Scored          int     `json:"scored"`
}

// Step is one row of a scoring run.
type Step struct {
	Index       int                 `json:"index"`
	Timestamp   int64               `json:"ts"`
	Values      []float64           `json:"values"`
	GroundTruth float64             `json:"ground_truth"`
	Engine      float64             `json:"engine"`
	Median      float64             `json:"median"`
	Mean        float64             `json:"mean"`
	Status      engine.ResultStatus `json:"status"`
	Flagged     []engine.SensorID   `json:"flagged"`
}

// Report is the outcome of Score.
type Report struct {
	Samples   int           `json:"samples"`
	Threshold float64       `json:"threshold"`
	Scores    []MethodScore `json:"scores"`
	Steps     []Step        `json:"steps,omitempty"`

	// FirstFlagged maps a sensor to the row index where it was first flagged.
	FirstFlagged map[engine.SensorID]int `json:"first_flagged"`
	Engine       engine.Stats            `json:"engine"`
}

// Passed reports whether method stayed within the threshold on every row.
func (r *Report) Passed(method string) bool {
	s, ok := r.Method(method)
	return ok && s.WithinThreshold
}

// Method returns the score for method.
func (r *Report) Method(method string) (MethodScore, bool) {
	for _, s := range r.Scores {
		if s.Method == method {
			return s, true
		}
	}
	return MethodScore{}, false
}

// ScoreOptions tunes Score.
type ScoreOptions struct {
	// ThresholdPct defaults to DefaultThresholdPct.
	ThresholdPct float64
	// KeepSteps stores every row in Report.Steps.
	KeepSteps bool
}

// Score runs the dataset through a fresh engine built from cfg and compares it
// with the plain median and mean of each row. The engine sensor set is taken
// from the dataset.
func Score(d *Dataset, cfg engine.Config, opts ScoreOptions) (*Report, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if opts.ThresholdPct <= 0 {
		opts.ThresholdPct = DefaultThresholdPct
	}

	cfg.Sensors = append([]engine.SensorID(nil), d.Sensors...)
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Samples:      len(d.Rows),
		Threshold:    math.Abs(d.Rows[0].GroundTruth) * opts.ThresholdPct,
		FirstFlagged: make(map[engine.SensorID]int),
	}
	acc := map[string]*MethodScore{
		MethodEngine: {Method: MethodEngine, WithinThreshold: true},
		MethodMedian: {Method: MethodMedian, WithinThreshold: true},
		MethodMean:   {Method: MethodMean, WithinThreshold: true},
	}
	record := func(method string, estimate, truth float64) {
		s := acc[method]
		if math.IsNaN(estimate) {
			s.WithinThreshold = false
			return
		}
		e := math.Abs(estimate - truth)
		s.Scored++
		s.MeanError += e
		if e > s.MaxError {
			s.MaxError = e
		}
		if e > report.Threshold {
			s.WithinThreshold = false
		}
	}

	for i, b := range d.Batches() {
		row := d.Rows[i]
		result, err := eng.Step(b)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		present := presentValues(row.Values)
		median := engine.Median(present)
		mean := meanOf(present)

		engineEstimate := result.Estimate
		if _, ok := eng.LastEstimate(); !ok {
			engineEstimate = math.NaN()
		}
		record(MethodEngine, engineEstimate, row.GroundTruth)
		record(MethodMedian, median, row.GroundTruth)
		record(MethodMean, mean, row.GroundTruth)

		for _, id := range result.Flagged {
			if _, seen := report.FirstFlagged[id]; !seen {
				report.FirstFlagged[id] = i
			}
		}

		if opts.KeepSteps {
			report.Steps = append(report.Steps, Step{
				Index:       i,
				Timestamp:   row.Timestamp,
				Values:      append([]float64(nil), row.Values...),
				GroundTruth: row.GroundTruth,
				Engine:      engineEstimate,
				Median:      median,
				Mean:        mean,
				Status:      result.Status,
				Flagged:     result.Flagged,
			})
		}
	}

	for _, m := range []string{MethodEngine, MethodMedian, MethodMean} {
		s := acc[m]
		if s.Scored > 0 {
			s.MeanError /= float64(s.Scored)
		}
		report.Scores = append(report.Scores, *s)
	}
	report.Engine = eng.Stats()
	return report, nil
}

func presentValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
