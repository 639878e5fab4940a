package network

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBroker spins up an in-process MQTT broker and returns its address.
func startBroker(t *testing.T) string {
	t.Helper()

	address := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: address,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return address
}

func TestMqttSourceReceivesReadings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	address := startBroker(t)
	sink := &collectingSink{}

	cfg := DefaultMqttConfig()
	cfg.Broker = address
	source := NewMqttSource(cfg, sink)
	require.NoError(t, source.Start(ctx))
	defer source.Stop()

	pub, err := DialMqttPublisher(ctx, address, "gateway-b", 1)
	require.NoError(t, err)
	defer pub.Close()

	for id := engine.SensorID(0); id < 3; id++ {
		require.NoError(t, pub.Publish(ctx, SensorTopic(id), engine.SensorReading{SensorID: id, Timestamp: 7, Value: 20}))
	}
	require.NoError(t, pub.Publish(ctx, "sensors/other/status", engine.SensorReading{SensorID: 9, Timestamp: 7}))

	require.Eventually(t, func() bool { return sink.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	stats := source.GetStats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, int64(3), stats.Ingest.Accepted)
	for _, r := range sink.all() {
		assert.Equal(t, int64(7), r.Timestamp)
		assert.Equal(t, 20.0, r.Value)
	}
}

func TestMqttSourceBrokerUnavailable(t *testing.T) {
	cfg := DefaultMqttConfig()
	cfg.Broker = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	cfg.ConnectTimeout = time.Second

	source := NewMqttSource(cfg, &collectingSink{})
	assert.Error(t, source.Start(context.Background()))
	assert.False(t, source.GetStats().IsRunning)
	source.Stop()
}

func TestMqttSourcePrunesReplayCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	address := startBroker(t)
	sink := &collectingSink{}

	cfg := DefaultMqttConfig()
	cfg.Broker = address
	cfg.ReplayTolerance = 500 * time.Millisecond
	source := NewMqttSource(cfg, sink)
	source.cleanInterval = 20 * time.Millisecond
	require.NoError(t, source.Start(ctx))
	defer source.Stop()

	pub, err := DialMqttPublisher(ctx, address, "gateway-c", 1)
	require.NoError(t, err)
	defer pub.Close()

	for id := engine.SensorID(0); id < 3; id++ {
		require.NoError(t, pub.Publish(ctx, SensorTopic(id), engine.SensorReading{SensorID: id, Timestamp: 1, Value: 20}))
	}
	require.Eventually(t, func() bool { return sink.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, source.GetStats().Nonces)

	require.Eventually(t, func() bool { return source.GetStats().Nonces == 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(3), source.GetStats().Ingest.Accepted)
}
