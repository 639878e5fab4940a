package network

import (
	"context"
	"testing"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestServiceFeedsPipeline(t *testing.T) {
	e, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	pcfg := engine.DefaultPipelineConfig()
	pcfg.Aligner.BatchTimeout = 0
	pipeline := engine.NewPipeline(e, pcfg)
	require.NoError(t, pipeline.Start())

	cfg := DefaultIngestConfig()
	cfg.Zmq.Port = freePort(t)
	cfg.EnableMqtt = true
	cfg.Mqtt.Broker = startBroker(t)

	svc := NewIngestService(cfg, pipeline)
	require.NoError(t, svc.Start(context.Background()))

	sensor, err := DialZmqSensor("gw", svc.ZmqAddress())
	require.NoError(t, err)
	defer sensor.Close()

	require.NoError(t, sensor.Send(
		engine.SensorReading{SensorID: 0, Timestamp: 1, Value: 5},
		engine.SensorReading{SensorID: 1, Timestamp: 1, Value: 5},
	))

	pub, err := DialMqttPublisher(context.Background(), cfg.Mqtt.Broker, "gw-mqtt", 1)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish(context.Background(), SensorTopic(2), engine.SensorReading{SensorID: 2, Timestamp: 1, Value: 5}))

	var result engine.ConsensusResult
	select {
	case result = <-pipeline.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("no result from pipeline")
	}
	assert.Equal(t, int64(1), result.Timestamp)
	assert.Equal(t, engine.StatusTrusted, result.Status)
	assert.Equal(t, 5.0, result.Estimate)

	status := svc.GetStatus()
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.Zmq)
	require.NotNil(t, status.Mqtt)
	assert.Equal(t, int64(2), status.Zmq.Ingest.Accepted)
	assert.Equal(t, int64(1), status.Mqtt.Ingest.Accepted)

	svc.Stop()
	pipeline.Stop()
	assert.False(t, svc.GetStatus().IsRunning)
}
