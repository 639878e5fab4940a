package api

import (
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/stretchr/testify/require"
)

func batchOf(ts int64, values ...float64) engine.Batch {
	b := engine.Batch{Timestamp: ts, Samples: make([]engine.Sample, len(values))}
	for i, v := range values {
		b.Samples[i] = engine.Sample{SensorID: engine.SensorID(i), Value: v}
	}
	return b
}

func newRunningPipeline(t *testing.T) *engine.Pipeline {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)

	cfg := engine.DefaultPipelineConfig()
	cfg.Aligner.MaxLag = 1000
	cfg.Aligner.BatchTimeout = 0
	p := engine.NewPipeline(e, cfg)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p
}
