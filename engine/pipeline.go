package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PipelineStatus represents the status of the fusion pipeline.
type PipelineStatus int

const (
	PipelineIdle PipelineStatus = iota
	PipelineRunning
	PipelineStopped
)

func (s PipelineStatus) String() string {
	switch s {
	case PipelineIdle:
		return "idle"
	case PipelineRunning:
		return "running"
	case PipelineStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineConfig contains configuration for the pipeline.
type PipelineConfig struct {
	Aligner      AlignerConfig
	QueueSize    int
	ResultBuffer int
	SnapshotSize int
	TickInterval time.Duration
}

// DefaultPipelineConfig returns default configuration. The aligner sensor set
// is taken from the engine when left empty.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Aligner:      AlignerConfig{MaxLag: 5, BatchTimeout: 500 * time.Millisecond},
		QueueSize:    1024,
		ResultBuffer: 256,
		SnapshotSize: 100,
	}
}

type pipelineInput struct {
	reading *SensorReading
	batch   *Batch
}

// PipelineStats contains pipeline statistics.
type PipelineStats struct {
	RunID            string       `json:"run_id"`
	Status           string       `json:"status"`
	ReadingsReceived int64        `json:"readings_received"`
	BatchesReceived  int64        `json:"batches_received"`
	ReadingsRejected int64        `json:"readings_rejected"`
	StepErrors       int64        `json:"step_errors"`
	ResultsEmitted   int64        `json:"results_emitted"`
	ResultsDropped   int64        `json:"results_dropped"`
	QueueDepth       int          `json:"queue_depth"`
	Aligner          AlignerStats `json:"aligner"`
	Engine           Stats        `json:"engine"`
}

// Snapshot is a copy of the pipeline's latest view, safe to use from any goroutine.
type Snapshot struct {
	RunID   string            `json:"run_id"`
	Recent  []ConsensusResult `json:"recent"`
	States  []SensorState     `json:"states"`
	Trend   string            `json:"trend"`
	Stats   PipelineStats     `json:"stats"`
	Updated time.Time         `json:"updated"`
}

// Pipeline owns one Engine and feeds it from a bounded queue. Readings and
// batches may be submitted from any goroutine; the engine itself only ever
// runs on the pipeline's processing goroutine.
type Pipeline struct {
	runID   string
	config  PipelineConfig
	engine  *Engine
	aligner *BatchAligner

	inCh     chan pipelineInput
	resultCh chan ConsensusResult

	observers []func(ConsensusResult)

	// Snapshot state, guarded by mu
	recent  []ConsensusResult
	states  []SensorState
	trend   Trend
	engStat Stats
	updated time.Time

	status PipelineStatus

	// Stats
	readingsReceived int64
	batchesReceived  int64
	readingsRejected int64
	stepErrors       int64
	resultsEmitted   int64
	resultsDropped   int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewPipeline creates a pipeline around engine.
func NewPipeline(engine *Engine, config PipelineConfig) *Pipeline {
	def := DefaultPipelineConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = def.ResultBuffer
	}
	if config.SnapshotSize <= 0 {
		config.SnapshotSize = def.SnapshotSize
	}
	if len(config.Aligner.Sensors) == 0 {
		config.Aligner.Sensors = engine.Config().Sensors
	}
	if config.TickInterval <= 0 {
		config.TickInterval = config.Aligner.BatchTimeout / 2
		if config.TickInterval <= 0 {
			config.TickInterval = 100 * time.Millisecond
		}
	}

	return &Pipeline{
		runID:    uuid.NewString(),
		config:   config,
		engine:   engine,
		aligner:  NewBatchAligner(config.Aligner),
		inCh:     make(chan pipelineInput, config.QueueSize),
		resultCh: make(chan ConsensusResult, config.ResultBuffer),
		recent:   make([]ConsensusResult, 0, config.SnapshotSize),
		states:   engine.States(),
		status:   PipelineIdle,
		stopCh:   make(chan struct{}),
	}
}

// AddObserver registers a callback invoked on the processing goroutine for
// every result. It must be called before Start.
func (p *Pipeline) AddObserver(fn func(ConsensusResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Start begins processing.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == PipelineRunning {
		return errors.New("pipeline already running")
	}
	if p.status == PipelineStopped {
		return ErrPipelineStopped
	}
	p.status = PipelineRunning

	p.wg.Add(1)
	go p.processLoop()

	log.Info("fusion pipeline started", "run", p.runID, "sensors", len(p.config.Aligner.Sensors))
	return nil
}

// Stop drains the queue, flushes open timesteps and closes the result channel.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.status != PipelineRunning {
		p.mu.Unlock()
		return
	}
	p.status = PipelineStopped
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	close(p.resultCh)

	log.Info("fusion pipeline stopped", "run", p.runID)
}

// SubmitReading queues one reading for alignment.
func (p *Pipeline) SubmitReading(r SensorReading) error {
	return p.submit(pipelineInput{reading: &r})
}

// SubmitBatch queues a complete timestep, bypassing the aligner.
func (p *Pipeline) SubmitBatch(b Batch) error {
	return p.submit(pipelineInput{batch: &b})
}

func (p *Pipeline) submit(in pipelineInput) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.status != PipelineRunning {
		return ErrPipelineStopped
	}

	select {
	case p.inCh <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the channel of fused results, in timestep order. Results are
// dropped rather than blocking the pipeline when nobody reads the channel.
func (p *Pipeline) Results() <-chan ConsensusResult {
	return p.resultCh
}

// processLoop is the only goroutine that touches the engine.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			for {
				select {
				case in := <-p.inCh:
					p.handle(in)
				default:
					p.runBatches(p.aligner.Flush())
					return
				}
			}

		case in := <-p.inCh:
			p.handle(in)

		case now := <-ticker.C:
			p.runBatches(p.aligner.Expire(now))
		}
	}
}

func (p *Pipeline) handle(in pipelineInput) {
	switch {
	case in.reading != nil:
		p.mu.Lock()
		p.readingsReceived++
		p.mu.Unlock()

		batches, err := p.aligner.Add(*in.reading)
		if err != nil {
			p.mu.Lock()
			p.readingsRejected++
			p.mu.Unlock()
			log.Debug("reading rejected by aligner", "error", err.Error())
			return
		}
		p.runBatches(batches)

	case in.batch != nil:
		p.mu.Lock()
		p.batchesReceived++
		p.mu.Unlock()
		p.runBatches([]Batch{*in.batch})
	}
}

func (p *Pipeline) runBatches(batches []Batch) {
	for _, b := range batches {
		result, err := p.engine.Step(b)
		if err != nil {
			p.mu.Lock()
			p.stepErrors++
			p.mu.Unlock()
			log.Debug("timestep rejected", "timestamp", b.Timestamp, "error", err.Error())
			continue
		}
		p.publish(result)
	}
}

func (p *Pipeline) publish(result ConsensusResult) {
	p.mu.Lock()
	if len(p.recent) == p.config.SnapshotSize {
		copy(p.recent, p.recent[1:])
		p.recent = p.recent[:len(p.recent)-1]
	}
	p.recent = append(p.recent, result)
	p.states = p.engine.States()
	p.trend = p.engine.Trend()
	p.engStat = p.engine.Stats()
	p.updated = time.Now()
	p.resultsEmitted++
	observers := p.observers
	p.mu.Unlock()

	for _, fn := range observers {
		fn(result.Clone())
	}

	select {
	case p.resultCh <- result:
	default:
		p.mu.Lock()
		p.resultsDropped++
		p.mu.Unlock()
	}
}

// Snapshot returns a copy of the latest results, sensor states and stats.
func (p *Pipeline) Snapshot() Snapshot {
	stats := p.GetStats()

	p.mu.RLock()
	defer p.mu.RUnlock()

	recent := make([]ConsensusResult, len(p.recent))
	for i, r := range p.recent {
		recent[i] = r.Clone()
	}
	states := make([]SensorState, len(p.states))
	copy(states, p.states)

	return Snapshot{
		RunID:   p.runID,
		Recent:  recent,
		States:  states,
		Trend:   p.trend.String(),
		Stats:   stats,
		Updated: p.updated,
	}
}

// GetStatus returns current pipeline status.
func (p *Pipeline) GetStatus() PipelineStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetStats returns pipeline statistics.
func (p *Pipeline) GetStats() PipelineStats {
	aligner := p.aligner.GetStats()

	p.mu.RLock()
	defer p.mu.RUnlock()

	return PipelineStats{
		RunID:            p.runID,
		Status:           p.status.String(),
		ReadingsReceived: p.readingsReceived,
		BatchesReceived:  p.batchesReceived,
		ReadingsRejected: p.readingsRejected,
		StepErrors:       p.stepErrors,
		ResultsEmitted:   p.resultsEmitted,
		ResultsDropped:   p.resultsDropped,
		QueueDepth:       len(p.inCh),
		Aligner:          aligner,
		Engine:           p.engStat,
	}
}

// RunID identifies this pipeline instance in logs and API responses.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Config returns the engine configuration.
func (p *Pipeline) Config() Config {
	return p.engine.Config()
}
