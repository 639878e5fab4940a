package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AlignerConfig controls when a timestep is considered closed.
type AlignerConfig struct {
	// Sensors is the set that makes a timestep complete.
	Sensors []SensorID

	// MaxLag closes a timestep once a reading more than MaxLag timestamp units newer arrives.
	MaxLag int64

	// BatchTimeout closes a timestep that has been pending this long in wall-clock time.
	BatchTimeout time.Duration
}

// DefaultAlignerConfig returns defaults for the given sensor set.
func DefaultAlignerConfig(sensors []SensorID) AlignerConfig {
	return AlignerConfig{
		Sensors:      cloneIDs(sensors),
		MaxLag:       5,
		BatchTimeout: 500 * time.Millisecond,
	}
}

type pendingBatch struct {
	timestamp int64
	samples   []Sample
	seen      map[SensorID]bool
	known     int
	firstSeen time.Time
}

// AlignerStats contains aligner counters.
type AlignerStats struct {
	Pending    int   `json:"pending"`
	Emitted    int64 `json:"emitted"`
	Late       int64 `json:"late"`
	Duplicates int64 `json:"duplicates"`
}

// BatchAligner collects individual readings from any number of sources into
// per-timestep batches and releases them in ascending timestamp order.
type BatchAligner struct {
	expected map[SensorID]bool
	maxLag   int64
	timeout  time.Duration

	pending     map[int64]*pendingBatch
	maxSeen     int64
	hasSeen     bool
	lastEmitted int64
	emittedAny  bool

	emitted    int64
	late       int64
	duplicates int64

	now func() time.Time
	mu  sync.Mutex
}

// NewBatchAligner creates a new aligner.
func NewBatchAligner(config AlignerConfig) *BatchAligner {
	expected := make(map[SensorID]bool, len(config.Sensors))
	for _, id := range config.Sensors {
		expected[id] = true
	}
	if config.MaxLag < 0 {
		config.MaxLag = 0
	}
	return &BatchAligner{
		expected: expected,
		maxLag:   config.MaxLag,
		timeout:  config.BatchTimeout,
		pending:  make(map[int64]*pendingBatch),
		now:      time.Now,
	}
}

// Add places a reading into its timestep. It returns the batches that became
// ready, oldest first, or an error for a late or duplicate reading.
func (a *BatchAligner) Add(r SensorReading) ([]Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.emittedAny && r.Timestamp <= a.lastEmitted {
		a.late++
		return nil, fmt.Errorf("%w: sensor %d at %d, last emitted %d", ErrLateReading, r.SensorID, r.Timestamp, a.lastEmitted)
	}

	pb, ok := a.pending[r.Timestamp]
	if !ok {
		pb = &pendingBatch{
			timestamp: r.Timestamp,
			seen:      make(map[SensorID]bool, len(a.expected)),
			firstSeen: a.now(),
		}
		a.pending[r.Timestamp] = pb
	}

	if pb.seen[r.SensorID] {
		a.duplicates++
		return nil, fmt.Errorf("%w: sensor %d at %d", ErrDuplicateReading, r.SensorID, r.Timestamp)
	}
	pb.seen[r.SensorID] = true
	pb.samples = append(pb.samples, Sample{SensorID: r.SensorID, Value: r.Value})
	if a.expected[r.SensorID] {
		pb.known++
	}

	if !a.hasSeen || r.Timestamp > a.maxSeen {
		a.maxSeen = r.Timestamp
		a.hasSeen = true
	}

	return a.release(func(pb *pendingBatch) bool {
		return pb.known >= len(a.expected) || a.maxSeen-pb.timestamp > a.maxLag
	}), nil
}

// Expire releases, oldest first, the pending timesteps that have waited longer than BatchTimeout.
func (a *BatchAligner) Expire(now time.Time) []Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timeout <= 0 {
		return nil
	}
	return a.release(func(pb *pendingBatch) bool {
		return now.Sub(pb.firstSeen) >= a.timeout
	})
}

// Flush releases every pending timestep.
func (a *BatchAligner) Flush() []Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.release(func(*pendingBatch) bool { return true })
}

// release emits pending batches in timestamp order while ready holds for the
// oldest one (called with lock held).
func (a *BatchAligner) release(ready func(*pendingBatch) bool) []Batch {
	if len(a.pending) == 0 {
		return nil
	}

	keys := make([]int64, 0, len(a.pending))
	for ts := range a.pending {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []Batch
	for _, ts := range keys {
		pb := a.pending[ts]
		if !ready(pb) {
			break
		}
		out = append(out, Batch{Timestamp: ts, Samples: pb.samples})
		delete(a.pending, ts)
		a.lastEmitted = ts
		a.emittedAny = true
		a.emitted++
	}
	return out
}

// Pending returns the number of open timesteps.
func (a *BatchAligner) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// GetStats returns aligner statistics.
func (a *BatchAligner) GetStats() AlignerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AlignerStats{
		Pending:    len(a.pending),
		Emitted:    a.emitted,
		Late:       a.late,
		Duplicates: a.duplicates,
	}
}
