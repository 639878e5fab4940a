package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/eclipse/paho.golang/paho"
)

// MqttConfig configures the MQTT subscription.
type MqttConfig struct {
	Broker          string        `json:"broker"`
	ClientID        string        `json:"client_id"`
	Topic           string        `json:"topic"`
	QoS             byte          `json:"qos"`
	KeepAlive       uint16        `json:"keep_alive"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	ReplayTolerance time.Duration `json:"replay_tolerance"`
}

// DefaultMqttConfig returns a configuration with sensible defaults.
func DefaultMqttConfig() MqttConfig {
	return MqttConfig{
		Broker:          "127.0.0.1:1883",
		ClientID:        "fusion-ingest",
		Topic:           "sensors/+/readings",
		QoS:             1,
		KeepAlive:       30,
		ConnectTimeout:  5 * time.Second,
		ReplayTolerance: 60 * time.Second,
	}
}

// MqttSource subscribes to a topic filter and forwards readings to a sink.
type MqttSource struct {
	config     MqttConfig
	client     *paho.Client
	dispatcher *dispatcher
	guard      *ReplayGuard

	cleanInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	running bool
	mu      sync.RWMutex
}

// NewMqttSource creates an MQTT source.
func NewMqttSource(config MqttConfig, sink ReadingSink) *MqttSource {
	guard := NewReplayGuard(config.ReplayTolerance)
	return &MqttSource{
		config:        config,
		guard:         guard,
		dispatcher:    newDispatcher("mqtt", sink, guard),
		cleanInterval: replayCleanInterval,
	}
}

// Start connects to the broker and subscribes.
func (m *MqttSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.config.Broker)
	if err != nil {
		return fmt.Errorf("failed to dial broker %s: %w", m.config.Broker, err)
	}

	m.client = paho.NewClient(paho.ClientConfig{
		ClientID: m.config.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				m.dispatcher.handle(pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			log.Warn("mqtt client error", "broker", m.config.Broker, "error", err.Error())
		},
	})

	ack, err := m.client.Connect(ctx, &paho.Connect{
		ClientID:   m.config.ClientID,
		KeepAlive:  m.config.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ack.ReasonCode != 0 {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect refused: reason code %d", ack.ReasonCode)
	}

	if _, err := m.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: m.config.Topic,
			QoS:   m.config.QoS,
		}},
	}); err != nil {
		_ = m.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("mqtt subscribe %s: %w", m.config.Topic, err)
	}

	cleanCtx, stopClean := context.WithCancel(context.Background())
	m.cancel = stopClean
	m.wg.Add(1)
	go m.replayCacheCleaner(cleanCtx)

	m.running = true
	log.Info("mqtt source subscribed", "broker", m.config.Broker, "topic", m.config.Topic)
	return nil
}

// Stop disconnects from the broker.
func (m *MqttSource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	if err := m.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		log.Trace("mqtt disconnect", "error", err.Error())
	}
	m.wg.Wait()
	log.Info("mqtt source stopped", "broker", m.config.Broker)
}

func (m *MqttSource) replayCacheCleaner(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.guard.Clean()
		}
	}
}

// MqttStats contains source statistics.
type MqttStats struct {
	Broker    string      `json:"broker"`
	Topic     string      `json:"topic"`
	IsRunning bool        `json:"is_running"`
	Nonces    int         `json:"nonces"`
	Ingest    IngestStats `json:"ingest"`
}

// GetStats returns current source statistics.
func (m *MqttSource) GetStats() MqttStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MqttStats{
		Broker:    m.config.Broker,
		Topic:     m.config.Topic,
		IsRunning: m.running,
		Nonces:    m.guard.Size(),
		Ingest:    m.dispatcher.getStats(),
	}
}

// MqttPublisher is the gateway side of MqttSource, used by tools and tests.
type MqttPublisher struct {
	source string
	client *paho.Client
	qos    byte
}

// DialMqttPublisher connects a publishing client to broker.
func DialMqttPublisher(ctx context.Context, broker, clientID string, qos byte) (*MqttPublisher, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", broker)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker %s: %w", broker, err)
	}

	client := paho.NewClient(paho.ClientConfig{ClientID: clientID, Conn: conn})
	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  30,
		CleanStart: true,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MqttPublisher{source: clientID, client: client, qos: qos}, nil
}

// Publish sends readings in one envelope to topic.
func (p *MqttPublisher) Publish(ctx context.Context, topic string, readings ...engine.SensorReading) error {
	data, err := NewReadingMessage(p.source, readings).Encode()
	if err != nil {
		return err
	}
	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     p.qos,
		Payload: data,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Close disconnects the publisher.
func (p *MqttPublisher) Close() error {
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

// SensorTopic returns the per-sensor topic matching the default filter.
func SensorTopic(id engine.SensorID) string {
	return fmt.Sprintf("sensors/%d/readings", id)
}
