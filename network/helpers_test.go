package network

import (
	"net"
	"sync"
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu       sync.Mutex
	readings []engine.SensorReading
	err      error
}

func (s *collectingSink) SubmitReading(r engine.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *collectingSink) all() []engine.SensorReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.SensorReading, len(s.readings))
	copy(out, s.readings)
	return out
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
