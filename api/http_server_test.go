package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForResults(t *testing.T, p *engine.Pipeline, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.GetStats().ResultsEmitted >= int64(n)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHTTPServerBatches(t *testing.T) {
	p := newRunningPipeline(t)
	s := NewHTTPServer(DefaultHTTPConfig(), p)
	h := s.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/results/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, err := json.Marshal([]engine.Batch{
		batchOf(0, 10, 10.1, 9.9),
		batchOf(1, 10, 10.2, 50),
	})
	require.NoError(t, err)
	w = do(t, h, http.MethodPost, "/api/v1/batches", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"accepted":2}`, w.Body.String())

	single, err := json.Marshal(batchOf(2, 10, 10, 10))
	require.NoError(t, err)
	w = do(t, h, http.MethodPost, "/api/v1/batches", single, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	waitForResults(t, p, 3)

	w = do(t, h, http.MethodGet, "/api/v1/results?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Results []engine.ConsensusResult `json:"results"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, 2, page.Count)
	assert.Equal(t, int64(1), page.Results[0].Timestamp)
	assert.Equal(t, int64(2), page.Results[1].Timestamp)

	w = do(t, h, http.MethodGet, "/api/v1/results/latest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest engine.ConsensusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, int64(2), latest.Timestamp)
	assert.Equal(t, engine.StatusTrusted, latest.Status)

	w = do(t, h, http.MethodGet, "/api/v1/results?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/batches", []byte(`{"timestamp":`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServerReadings(t *testing.T) {
	p := newRunningPipeline(t)
	h := NewHTTPServer(DefaultHTTPConfig(), p).Handler()

	msg := network.NewReadingMessage("gw-1", []engine.SensorReading{
		{SensorID: 0, Timestamp: 5, Value: 1},
		{SensorID: 1, Timestamp: 5, Value: 1.1},
		{SensorID: 2, Timestamp: 5, Value: 0.9},
	})
	// one reading without a timestamp
	id := 1
	msg.Readings = append(msg.Readings, network.WireReading{SensorID: &id})
	body, err := msg.Encode()
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/v1/readings", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"accepted":3,"malformed":1}`, w.Body.String())

	waitForResults(t, p, 1)

	w = do(t, h, http.MethodGet, "/api/v1/sensors", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sensors struct {
		Sensors []engine.SensorState `json:"sensors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sensors))
	assert.Len(t, sensors.Sensors, 3)

	w = do(t, h, http.MethodPost, "/api/v1/readings", []byte("not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServerHealthAndStats(t *testing.T) {
	p := newRunningPipeline(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics("fusion", reg)
	p.AddObserver(m.ObserveResult)

	h := NewHTTPServer(DefaultHTTPConfig(), p,
		WithMetrics(m, reg),
		WithStatus("ingest", func() any { return map[string]bool{"is_running": true} }),
	).Handler()

	w := do(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)
	assert.Contains(t, w.Body.String(), `"quorum":3`)

	w = do(t, h, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ingest":{"is_running":true}`)
	assert.Contains(t, w.Body.String(), `"pipeline":`)

	w = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fusion_http_requests_total{route="/health",status="200"} 1`)

	p.Stop()
	w = do(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body, _ := json.Marshal(batchOf(0, 1, 1, 1))
	w = do(t, h, http.MethodPost, "/api/v1/batches", body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHTTPServerAuth(t *testing.T) {
	p := newRunningPipeline(t)
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	h := NewHTTPServer(DefaultHTTPConfig(), p, WithAuth(auth)).Handler()

	body, _ := json.Marshal(batchOf(0, 1, 1, 1))
	w := do(t, h, http.MethodPost, "/api/v1/batches", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/batches", body, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	// reads stay open
	w = do(t, h, http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type stubStore struct {
	results []engine.ConsensusResult
	err     error
	limit   int
}

func (s *stubStore) Recent(_ context.Context, limit int) ([]engine.ConsensusResult, error) {
	s.limit = limit
	return s.results, s.err
}

func TestHTTPServerHistory(t *testing.T) {
	p := newRunningPipeline(t)

	h := NewHTTPServer(DefaultHTTPConfig(), p).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/history", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	store := &stubStore{results: []engine.ConsensusResult{{Timestamp: 9, Flagged: []engine.SensorID{}}}}
	h = NewHTTPServer(DefaultHTTPConfig(), p, WithResultStore(store)).Handler()
	w = do(t, h, http.MethodGet, "/api/v1/history?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, store.limit)
	assert.Contains(t, w.Body.String(), `"count":1`)

	store.err = errors.New("db down")
	w = do(t, h, http.MethodGet, "/api/v1/history", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 20, store.limit)
}

func TestHTTPServerStartStop(t *testing.T) {
	p := newRunningPipeline(t)
	s := NewHTTPServer(HTTPConfig{Address: "127.0.0.1:0"}, p)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.StartAsync())
	assert.Error(t, s.StartAsync())

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr().String()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	_, err = http.Get(fmt.Sprintf("http://%s/health", s.Addr().String()))
	assert.Error(t, err)
}

func TestHTTPServerBatchWithoutValueDropsSensor(t *testing.T) {
	p := newRunningPipeline(t)
	h := NewHTTPServer(DefaultHTTPConfig(), p).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/batches",
		[]byte(`{"timestamp":0,"samples":[{"sensor_id":0,"value":100},{"sensor_id":1,"value":100},{"sensor_id":2,"value":100}]}`), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	for ts := 1; ts <= 3; ts++ {
		body := fmt.Sprintf(`{"timestamp":%d,"samples":[{"sensor_id":0,"value":100},{"sensor_id":1,"value":100},{"sensor_id":2}]}`, ts)
		w = do(t, h, http.MethodPost, "/api/v1/batches", []byte(body), nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}
	waitForResults(t, p, 4)

	w = do(t, h, http.MethodGet, "/api/v1/results/latest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest engine.ConsensusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, int64(3), latest.Timestamp)
	assert.Equal(t, []engine.SensorID{2}, latest.Dropped)
	assert.Empty(t, latest.Flagged)
	assert.InDelta(t, 100, latest.Estimate, 1e-9)

	w = do(t, h, http.MethodGet, "/api/v1/sensors", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sensors struct {
		Sensors []engine.SensorState `json:"sensors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sensors))
	for _, st := range sensors.Sensors {
		assert.False(t, st.Flagged, "sensor %d", st.SensorID)
		assert.Zero(t, st.Violations, "sensor %d", st.SensorID)
	}
}

func TestHTTPServerRejectsIncompleteBatches(t *testing.T) {
	p := newRunningPipeline(t)
	h := NewHTTPServer(DefaultHTTPConfig(), p).Handler()

	for name, body := range map[string]string{
		"missing timestamp": `{"samples":[{"sensor_id":0,"value":1}]}`,
		"missing sensor_id": `{"timestamp":4,"samples":[{"sensor_id":0,"value":1},{"value":2}]}`,
		"second of two":     `[{"timestamp":4,"samples":[{"sensor_id":0,"value":1}]},{"samples":[]}]`,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/batches", []byte(body), nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, p.GetStats().BatchesReceived)
}
