package sim

import (
	"math"
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreByzantineScenario(t *testing.T) {
	ds := generate(t, 42)

	report, err := Score(ds, engine.DefaultConfig(), ScoreOptions{KeepSteps: true})
	require.NoError(t, err)
	assert.Equal(t, 100, report.Samples)
	assert.InDelta(t, 2.0, report.Threshold, 1e-9)
	require.Len(t, report.Steps, 100)

	assert.True(t, report.Passed(MethodEngine))
	assert.True(t, report.Passed(MethodMedian))
	assert.False(t, report.Passed(MethodMean))

	eng, _ := report.Method(MethodEngine)
	mean, _ := report.Method(MethodMean)
	assert.Equal(t, 100, eng.Scored)
	assert.Less(t, eng.MeanError, mean.MeanError)

	first, ok := report.FirstFlagged[Liar]
	require.True(t, ok, "liar never flagged")
	assert.Greater(t, first, 10)
	assert.Contains(t, report.Steps[first].Flagged, Liar)
	assert.Equal(t, int64(100), report.Engine.Steps)
}

func TestScoreMissingReadings(t *testing.T) {
	ds := &Dataset{
		Sensors: []engine.SensorID{0, 1, 2},
		Rows: []Row{
			{Timestamp: 0, Values: []float64{math.NaN(), math.NaN(), math.NaN()}, GroundTruth: 10},
			{Timestamp: 1, Values: []float64{10, 10.2, math.NaN()}, GroundTruth: 10},
		},
	}
	report, err := Score(ds, engine.DefaultConfig(), ScoreOptions{KeepSteps: true})
	require.NoError(t, err)

	// nothing to estimate from on the first row
	assert.True(t, math.IsNaN(report.Steps[0].Engine))
	assert.True(t, math.IsNaN(report.Steps[0].Mean))
	assert.False(t, report.Passed(MethodEngine))

	assert.Equal(t, engine.StatusDegraded, report.Steps[1].Status)
	assert.InDelta(t, 10.1, report.Steps[1].Engine, 1e-9)
	eng, _ := report.Method(MethodEngine)
	assert.Equal(t, 1, eng.Scored)
}

func TestScoreRejectsInvalid(t *testing.T) {
	_, err := Score(&Dataset{}, engine.DefaultConfig(), ScoreOptions{})
	assert.ErrorIs(t, err, ErrInvalidDataset)

	ds := generate(t, 1)
	cfg := engine.DefaultConfig()
	cfg.MaxFaulty = 2
	_, err = Score(ds, cfg, ScoreOptions{})
	assert.ErrorIs(t, err, engine.ErrInsufficientSensors)
}
