package sink

import (
	"context"
	"sync"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

type memorySink struct {
	name    string
	mu      sync.Mutex
	results []engine.ConsensusResult
	err     error
	closed  bool
	block   chan struct{}
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, r engine.ConsensusResult) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, r)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.results))
	for i, r := range s.results {
		out[i] = r.Timestamp
	}
	return out
}

func sampleResult(ts int64, status engine.ResultStatus) engine.ConsensusResult {
	return engine.ConsensusResult{
		Timestamp:    ts,
		Estimate:     100 + float64(ts)/10,
		Status:       status,
		Contributing: []engine.SensorID{0, 1},
		Flagged:      []engine.SensorID{2},
		Spread:       0.25,
		Agree:        status == engine.StatusTrusted,
		Confidence:   0.5,
	}
}
