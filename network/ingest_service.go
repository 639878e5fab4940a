package network

import (
	"context"
	"fmt"
	"sync"
)

// IngestConfig selects and configures the transports.
type IngestConfig struct {
	EnableZmq  bool       `json:"enable_zmq"`
	Zmq        ZmqConfig  `json:"zmq"`
	EnableMqtt bool       `json:"enable_mqtt"`
	Mqtt       MqttConfig `json:"mqtt"`
}

// DefaultIngestConfig enables ZeroMQ only.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		EnableZmq: true,
		Zmq:       DefaultZmqConfig(),
		Mqtt:      DefaultMqttConfig(),
	}
}

// IngestStatus reports the state of every configured transport.
type IngestStatus struct {
	IsRunning bool       `json:"is_running"`
	Zmq       *ZmqStats  `json:"zmq,omitempty"`
	Mqtt      *MqttStats `json:"mqtt,omitempty"`
}

// IngestService starts and stops the configured transports around one sink.
type IngestService struct {
	config IngestConfig
	zmq    *ZmqIngest
	mqtt   *MqttSource

	mu      sync.RWMutex
	running bool
}

// NewIngestService creates the transports enabled in config.
func NewIngestService(config IngestConfig, sink ReadingSink) *IngestService {
	s := &IngestService{config: config}
	if config.EnableZmq {
		s.zmq = NewZmqIngest(config.Zmq, sink)
	}
	if config.EnableMqtt {
		s.mqtt = NewMqttSource(config.Mqtt, sink)
	}
	return s
}

// Start starts every enabled transport. On failure the ones already started are stopped.
func (s *IngestService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.zmq != nil {
		if err := s.zmq.Start(); err != nil {
			return fmt.Errorf("failed to start zmq ingest: %w", err)
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.Start(ctx); err != nil {
			if s.zmq != nil {
				s.zmq.Stop()
			}
			return fmt.Errorf("failed to start mqtt source: %w", err)
		}
	}

	s.running = true
	log.Info("ingest service started", "zmq", s.zmq != nil, "mqtt", s.mqtt != nil)
	return nil
}

// Stop shuts the transports down in reverse order.
func (s *IngestService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.mqtt != nil {
		s.mqtt.Stop()
	}
	if s.zmq != nil {
		s.zmq.Stop()
	}
	s.running = false
	log.Info("ingest service stopped")
}

// ZmqAddress returns the bound ZeroMQ endpoint, or "" when ZeroMQ is disabled.
func (s *IngestService) ZmqAddress() string {
	if s.zmq == nil {
		return ""
	}
	return s.zmq.Address()
}

// GetStatus returns the current status of the ingest service.
func (s *IngestService) GetStatus() IngestStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := IngestStatus{IsRunning: s.running}
	if s.zmq != nil {
		st := s.zmq.GetStats()
		status.Zmq = &st
	}
	if s.mqtt != nil {
		st := s.mqtt.GetStats()
		status.Mqtt = &st
	}
	return status
}
