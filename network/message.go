// Package network carries sensor readings from remote sources into the fusion
// pipeline.
//
// This package implements:
//   - ReadingMessage: JSON wire format shared by every transport
//   - ZmqIngest / ZmqSensor: ZeroMQ ROUTER/DEALER ingest
//   - MqttSource: MQTT v5 subscription ingest
//   - IngestService: lifecycle for the configured transports
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/google/uuid"
)

// Common errors for network operations
var (
	ErrNotRunning     = errors.New("transport is not running")
	ErrAlreadyRunning = errors.New("transport already running")
	ErrSendFailed     = errors.New("failed to send message")
	ErrReplayed       = errors.New("replayed or stale message")
)

// ReadingSink receives validated readings. *engine.Pipeline implements it.
type ReadingSink interface {
	SubmitReading(r engine.SensorReading) error
}

// WireReading is one reading as it appears on the wire. Pointer fields tell a
// missing field apart from a zero value.
type WireReading struct {
	SensorID  *int     `json:"sensor_id"`
	Timestamp *int64   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

// ReadingMessage is the envelope sent by sensor gateways.
type ReadingMessage struct {
	Source   string        `json:"source"`
	Readings []WireReading `json:"readings"`
	SentAt   time.Time     `json:"sent_at"`
	Nonce    string        `json:"nonce,omitempty"`
}

// NewReadingMessage wraps readings in an envelope with a fresh nonce.
func NewReadingMessage(source string, readings []engine.SensorReading) *ReadingMessage {
	msg := &ReadingMessage{
		Source:   source,
		Readings: make([]WireReading, len(readings)),
		SentAt:   time.Now(),
		Nonce:    uuid.NewString(),
	}
	for i, r := range readings {
		id := int(r.SensorID)
		ts := r.Timestamp
		msg.Readings[i] = WireReading{SensorID: &id, Timestamp: &ts}
		if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
			v := r.Value
			msg.Readings[i].Value = &v
		}
	}
	return msg
}

// Encode serializes the message to JSON.
func (m *ReadingMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// DecodeReadingMessage parses a JSON envelope.
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrMalformedReading, err)
	}
	return &msg, nil
}

// Reading converts a wire reading. A reading without sensor or timestamp
// cannot be placed and is rejected. A missing value becomes NaN so that the
// engine reports the sensor as dropped for that timestep.
func (w WireReading) Reading() (engine.SensorReading, error) {
	if w.SensorID == nil {
		return engine.SensorReading{}, fmt.Errorf("%w: missing sensor_id", engine.ErrMalformedReading)
	}
	if w.Timestamp == nil {
		return engine.SensorReading{}, fmt.Errorf("%w: sensor %d: missing timestamp", engine.ErrMalformedReading, *w.SensorID)
	}
	if *w.SensorID < 0 || *w.SensorID > math.MaxInt32 {
		return engine.SensorReading{}, fmt.Errorf("%w: sensor id %d out of range", engine.ErrMalformedReading, *w.SensorID)
	}

	value := math.NaN()
	if w.Value != nil {
		value = *w.Value
	}
	return engine.SensorReading{
		SensorID:  engine.SensorID(*w.SensorID),
		Timestamp: *w.Timestamp,
		Value:     value,
	}, nil
}

// WireSample is one sample of a WireBatch.
type WireSample struct {
	SensorID *int     `json:"sensor_id"`
	Value    *float64 `json:"value"`
}

// WireBatch is a timestep batch as posted by clients.
type WireBatch struct {
	Timestamp *int64       `json:"timestamp"`
	Samples   []WireSample `json:"samples"`
}

// Batch converts a wire batch. A batch without timestamp or a sample without
// sensor_id is rejected. A sample without value becomes NaN and is reported
// as dropped by the engine.
func (w WireBatch) Batch() (engine.Batch, error) {
	if w.Timestamp == nil {
		return engine.Batch{}, fmt.Errorf("%w: batch missing timestamp", engine.ErrMalformedReading)
	}
	b := engine.Batch{Timestamp: *w.Timestamp, Samples: make([]engine.Sample, len(w.Samples))}
	for i, s := range w.Samples {
		if s.SensorID == nil {
			return engine.Batch{}, fmt.Errorf("%w: sample %d at %d missing sensor_id", engine.ErrMalformedReading, i, b.Timestamp)
		}
		if *s.SensorID < 0 || *s.SensorID > math.MaxInt32 {
			return engine.Batch{}, fmt.Errorf("%w: sensor id %d out of range", engine.ErrMalformedReading, *s.SensorID)
		}
		b.Samples[i] = engine.Sample{SensorID: engine.SensorID(*s.SensorID), Value: math.NaN()}
		if s.Value != nil {
			b.Samples[i].Value = *s.Value
		}
	}
	return b, nil
}

// ReplayGuard rejects envelopes whose nonce was already seen or whose
// send time is older than the tolerance.
type ReplayGuard struct {
	seen      map[string]time.Time
	tolerance time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

// NewReplayGuard creates a guard. A zero tolerance disables the age check.
func NewReplayGuard(tolerance time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen:      make(map[string]time.Time),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Check records the envelope nonce and reports whether it may be processed.
func (g *ReplayGuard) Check(msg *ReadingMessage) bool {
	if msg.Nonce == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.seen[msg.Nonce]; seen {
		return false
	}
	now := g.now()
	if g.tolerance > 0 && !msg.SentAt.IsZero() && now.Sub(msg.SentAt) > g.tolerance {
		return false
	}

	g.seen[msg.Nonce] = now
	return true
}

// Clean forgets nonces older than the tolerance.
func (g *ReplayGuard) Clean() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tolerance <= 0 {
		return 0
	}
	cutoff := g.now().Add(-g.tolerance)
	removed := 0
	for nonce, ts := range g.seen {
		if ts.Before(cutoff) {
			delete(g.seen, nonce)
			removed++
		}
	}
	return removed
}

// Size returns the number of remembered nonces.
func (g *ReplayGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// IngestStats contains per-transport counters.
type IngestStats struct {
	Messages  int64 `json:"messages"`
	Accepted  int64 `json:"accepted"`
	Malformed int64 `json:"malformed"`
	Replayed  int64 `json:"replayed"`
	Rejected  int64 `json:"rejected"`
}

// dispatcher validates envelopes and forwards readings to a sink. Every
// transport shares it so they count the same way.
type dispatcher struct {
	name  string
	sink  ReadingSink
	guard *ReplayGuard

	stats IngestStats
	mu    sync.Mutex
}

func newDispatcher(name string, sink ReadingSink, guard *ReplayGuard) *dispatcher {
	return &dispatcher{name: name, sink: sink, guard: guard}
}

// handle processes one raw payload and returns the number of readings accepted.
func (d *dispatcher) handle(payload []byte) int {
	d.mu.Lock()
	d.stats.Messages++
	d.mu.Unlock()

	msg, err := DecodeReadingMessage(payload)
	if err != nil {
		d.count(func(s *IngestStats) { s.Malformed++ })
		log.Debug("dropping undecodable message", "transport", d.name, "error", err.Error())
		return 0
	}
	if d.guard != nil && !d.guard.Check(msg) {
		d.count(func(s *IngestStats) { s.Replayed++ })
		log.Debug("dropping replayed message", "transport", d.name, "source", msg.Source, "nonce", msg.Nonce)
		return 0
	}

	accepted := 0
	for _, w := range msg.Readings {
		r, err := w.Reading()
		if err != nil {
			d.count(func(s *IngestStats) { s.Malformed++ })
			log.Debug("dropping malformed reading", "transport", d.name, "source", msg.Source, "error", err.Error())
			continue
		}
		if err := d.sink.SubmitReading(r); err != nil {
			d.count(func(s *IngestStats) { s.Rejected++ })
			log.Debug("pipeline rejected reading", "transport", d.name, "sensor", r.SensorID, "error", err.Error())
			continue
		}
		accepted++
	}
	d.count(func(s *IngestStats) { s.Accepted += int64(accepted) })
	return accepted
}

func (d *dispatcher) count(fn func(*IngestStats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

func (d *dispatcher) getStats() IngestStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
