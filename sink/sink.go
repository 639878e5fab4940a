// Package sink delivers fusion results to external systems.
//
// This package implements:
//   - Dispatcher: asynchronous fan-out from a pipeline observer to sinks
//   - RedisSink: latest result, bounded history list and pub/sub notification
//   - AmqpSink: results on a topic exchange routed by status
//   - GormStore: result table in Postgres (or any GORM dialect)
//   - Archive: run reports and Arrow dumps in S3-compatible storage
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	logger "github.com/multiversx/mx-chain-logger-go"
)

var log = logger.GetOrCreate("fusion/sink")

// Common sink errors
var (
	ErrClosed        = errors.New("sink is closed")
	ErrNotConfigured = errors.New("sink is not configured")
)

// ResultSink receives every result a pipeline emits.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, r engine.ConsensusResult) error
	Close() error
}

// DispatcherStats contains dispatcher counters.
type DispatcherStats struct {
	Queued  int              `json:"queued"`
	Dropped int64            `json:"dropped"`
	Written map[string]int64 `json:"written"`
	Failed  map[string]int64 `json:"failed"`
}

// Dispatcher decouples the pipeline goroutine from slow sinks. Observe never
// blocks; results that do not fit in the buffer are dropped and counted.
type Dispatcher struct {
	sinks   []ResultSink
	ch      chan engine.ConsensusResult
	timeout time.Duration

	dropped int64
	written map[string]int64
	failed  map[string]int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	mu        sync.Mutex
}

// NewDispatcher creates a dispatcher over sinks. timeout bounds each Write.
func NewDispatcher(buffer int, timeout time.Duration, sinks ...ResultSink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		ch:      make(chan engine.ConsensusResult, buffer),
		timeout: timeout,
		written: make(map[string]int64),
		failed:  make(map[string]int64),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.loop()
	})
}

// Observe queues r for delivery. It is meant to be registered with
// Pipeline.AddObserver and must not be called after Stop.
func (d *Dispatcher) Observe(r engine.ConsensusResult) {
	select {
	case d.ch <- r.Clone():
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
	}
}

// Stop delivers what is queued, then closes every sink.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.Start()
		close(d.ch)
		<-d.done
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				log.Warn("sink close failed", "sink", s.Name(), "error", err.Error())
			}
		}
	})
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for r := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := s.Write(ctx, r)
			cancel()

			d.mu.Lock()
			if err != nil {
				d.failed[s.Name()]++
			} else {
				d.written[s.Name()]++
			}
			d.mu.Unlock()

			if err != nil {
				log.Debug("sink write failed", "sink", s.Name(), "timestamp", r.Timestamp, "error", err.Error())
			}
		}
	}
}

// GetStats returns dispatcher counters.
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DispatcherStats{
		Queued:  len(d.ch),
		Dropped: d.dropped,
		Written: make(map[string]int64, len(d.written)),
		Failed:  make(map[string]int64, len(d.failed)),
	}
	for k, v := range d.written {
		stats.Written[k] = v
	}
	for k, v := range d.failed {
		stats.Failed[k] = v
	}
	return stats
}
