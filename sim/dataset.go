package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

// ErrInvalidDataset is returned for a dataset or generator configuration that cannot be used.
var ErrInvalidDataset = errors.New("invalid dataset")

// DatasetConfig describes the Byzantine scenario.
type DatasetConfig struct {
	Samples      int     `json:"samples"`
	GroundTruth  float64 `json:"ground_truth"`
	NoiseStd     float64 `json:"noise_std"`
	DriftRate    float64 `json:"drift_rate"`
	HonestPeriod int     `json:"honest_period"`
	IntervalMs   int64   `json:"interval_ms"`
}

// DefaultDatasetConfig returns the classic three-sensor liar scenario.
func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		Samples:      100,
		GroundTruth:  100.0,
		NoiseStd:     0.5,
		DriftRate:    0.15,
		HonestPeriod: 10,
		IntervalMs:   100,
	}
}

// Validate checks the generator parameters.
func (c DatasetConfig) Validate() error {
	switch {
	case c.Samples <= 0:
		return fmt.Errorf("%w: samples must be positive, got %d", ErrInvalidDataset, c.Samples)
	case c.NoiseStd < 0:
		return fmt.Errorf("%w: noise_std must not be negative", ErrInvalidDataset)
	case c.HonestPeriod < 0:
		return fmt.Errorf("%w: honest_period must not be negative", ErrInvalidDataset)
	case c.IntervalMs <= 0:
		return fmt.Errorf("%w: interval_ms must be positive", ErrInvalidDataset)
	}
	return nil
}

// Row is one timestep of a dataset. Values[i] belongs to Dataset.Sensors[i];
// NaN marks a missing reading.
type Row struct {
	Timestamp   int64     `json:"ts"`
	Values      []float64 `json:"values"`
	GroundTruth float64   `json:"ground_truth"`
}

// Dataset is a table of readings with the ground truth per row.
type Dataset struct {
	Sensors []engine.SensorID `json:"sensors"`
	Rows    []Row             `json:"rows"`
}

// Liar is the sensor that drifts after the honest period.
const Liar engine.SensorID = 2

// Generate builds the three-sensor scenario from rng:
// sensor 0 reports the truth, sensor 1 adds gaussian noise and sensor 2 is
// near-honest for HonestPeriod samples and then drifts by DriftRate per sample.
// Values are rounded to three decimals as they are when written to CSV.
func Generate(cfg DatasetConfig, rng *rand.Rand) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidDataset)
	}

	ds := &Dataset{
		Sensors: []engine.SensorID{0, 1, Liar},
		Rows:    make([]Row, cfg.Samples),
	}
	for i := 0; i < cfg.Samples; i++ {
		truth := cfg.GroundTruth
		s0 := truth
		s1 := truth + rng.NormFloat64()*cfg.NoiseStd

		var s2 float64
		if i < cfg.HonestPeriod {
			s2 = truth + rng.NormFloat64()*cfg.NoiseStd*0.5
		} else {
			s2 = truth + float64(i-cfg.HonestPeriod)*cfg.DriftRate
		}

		ds.Rows[i] = Row{
			Timestamp:   int64(i) * cfg.IntervalMs,
			Values:      []float64{round3(s0), round3(s1), round3(s2)},
			GroundTruth: round3(truth),
		}
	}
	return ds, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Batches converts every row to an engine batch. Missing values are left
// out so the sensor is absent for that timestep.
func (d *Dataset) Batches() []engine.Batch {
	out := make([]engine.Batch, len(d.Rows))
	for i, row := range d.Rows {
		b := engine.Batch{Timestamp: row.Timestamp, Samples: make([]engine.Sample, 0, len(row.Values))}
		for j, v := range row.Values {
			if math.IsNaN(v) {
				continue
			}
			b.Samples = append(b.Samples, engine.Sample{SensorID: d.Sensors[j], Value: v})
		}
		out[i] = b
	}
	return out
}

// Validate checks that every row matches the sensor list and timestamps increase.
func (d *Dataset) Validate() error {
	if len(d.Sensors) == 0 {
		return fmt.Errorf("%w: no sensors", ErrInvalidDataset)
	}
	if len(d.Rows) == 0 {
		return fmt.Errorf("%w: no rows", ErrInvalidDataset)
	}
	for i, row := range d.Rows {
		if len(row.Values) != len(d.Sensors) {
			return fmt.Errorf("%w: row %d has %d values for %d sensors", ErrInvalidDataset, i, len(row.Values), len(d.Sensors))
		}
		if i > 0 && row.Timestamp <= d.Rows[i-1].Timestamp {
			return fmt.Errorf("%w: row %d timestamp %d not after %d", ErrInvalidDataset, i, row.Timestamp, d.Rows[i-1].Timestamp)
		}
	}
	return nil
}
