package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/network"
	"github.com/gin-gonic/gin"
	logger "github.com/multiversx/mx-chain-logger-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.GetOrCreate("fusion/api")

// maxBodySize bounds JSON request bodies.
const maxBodySize = 8 * 1024 * 1024

// ResultStore serves persisted results for the history endpoint.
type ResultStore interface {
	Recent(ctx context.Context, limit int) ([]engine.ConsensusResult, error)
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Address      string
	DefaultLimit int
	// TrustedProxies may set X-Forwarded-For. Nil trusts no proxy.
	TrustedProxies []string
}

// DefaultHTTPConfig returns default configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Address:      ":8080",
		DefaultLimit: 20,
	}
}

// HTTPOption customizes an HTTPServer.
type HTTPOption func(*HTTPServer)

// WithMetrics exposes gatherer on /metrics and records request metrics.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) HTTPOption {
	return func(s *HTTPServer) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithAuth protects the write endpoints.
func WithAuth(a *Authenticator) HTTPOption {
	return func(s *HTTPServer) { s.auth = a }
}

// WithRateLimiter limits the write endpoints.
func WithRateLimiter(h gin.HandlerFunc) HTTPOption {
	return func(s *HTTPServer) { s.limiter = h }
}

// WithStatus adds a named section to /api/v1/stats.
func WithStatus(name string, fn func() any) HTTPOption {
	return func(s *HTTPServer) { s.status[name] = fn }
}

// WithResultStore enables /api/v1/history.
func WithResultStore(store ResultStore) HTTPOption {
	return func(s *HTTPServer) { s.store = store }
}

// HTTPServer serves pipeline state and accepts readings over HTTP.
type HTTPServer struct {
	config   HTTPConfig
	pipeline *engine.Pipeline

	metrics  *Metrics
	gatherer prometheus.Gatherer
	auth     *Authenticator
	limiter  gin.HandlerFunc
	store    ResultStore
	status   map[string]func() any

	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
}

// NewHTTPServer builds the router for pipeline.
func NewHTTPServer(config HTTPConfig, pipeline *engine.Pipeline, opts ...HTTPOption) *HTTPServer {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultHTTPConfig().DefaultLimit
	}
	s := &HTTPServer{
		config:   config,
		pipeline: pipeline,
		status:   make(map[string]func() any),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(config.TrustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", "error", err.Error())
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), s.observe())

	r.GET("/health", s.health)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/results", s.results)
		v1.GET("/results/latest", s.latest)
		v1.GET("/sensors", s.sensors)
		v1.GET("/stats", s.stats)
		v1.GET("/history", s.history)

		write := v1.Group("")
		if s.auth != nil {
			write.Use(s.auth.Middleware())
		}
		if s.limiter != nil {
			write.Use(s.limiter)
		}
		write.POST("/batches", s.submitBatches)
		write.POST("/readings", s.submitReadings)
	}

	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// StartAsync binds the configured address and serves in the background.
func (s *HTTPServer) StartAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("server is already running")
	}
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "error", err.Error())
		}
	}()

	log.Info("http api listening", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before StartAsync.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *HTTPServer) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func (s *HTTPServer) health(c *gin.Context) {
	status := s.pipeline.GetStatus()
	code := http.StatusOK
	if status != engine.PipelineRunning {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status.String(),
		"run_id":   s.pipeline.RunID(),
		"sensors":  s.pipeline.Config().Sensors,
		"quorum":   s.pipeline.Config().Quorum(),
		"time_utc": time.Now().UTC(),
	})
}

func (s *HTTPServer) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return s.config.DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func (s *HTTPServer) results(c *gin.Context) {
	n, ok := s.limit(c)
	if !ok {
		return
	}
	recent := s.pipeline.Snapshot().Recent
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	c.JSON(http.StatusOK, gin.H{"results": recent, "count": len(recent)})
}

func (s *HTTPServer) latest(c *gin.Context) {
	recent := s.pipeline.Snapshot().Recent
	if len(recent) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results yet"})
		return
	}
	c.JSON(http.StatusOK, recent[len(recent)-1])
}

func (s *HTTPServer) sensors(c *gin.Context) {
	snap := s.pipeline.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sensors": snap.States,
		"trend":   snap.Trend,
		"updated": snap.Updated,
	})
}

func (s *HTTPServer) stats(c *gin.Context) {
	stats := s.pipeline.GetStats()
	if s.metrics != nil {
		s.metrics.UpdatePipeline(stats)
	}
	body := gin.H{"pipeline": stats}
	for name, fn := range s.status {
		body[name] = fn()
	}
	c.JSON(http.StatusOK, body)
}

func (s *HTTPServer) history(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "result store not configured"})
		return
	}
	n, ok := s.limit(c)
	if !ok {
		return
	}
	results, err := s.store.Recent(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// submitBatches accepts one batch object or an array of batches.
func (s *HTTPServer) submitBatches(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var wire []network.WireBatch
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &wire)
	} else {
		var b network.WireBatch
		err = json.Unmarshal(trimmed, &b)
		wire = []network.WireBatch{b}
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid batch: %v", err)})
		return
	}

	// a request is all or nothing: validate every batch before submitting any
	batches := make([]engine.Batch, len(wire))
	for i, w := range wire {
		if batches[i], err = w.Batch(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	accepted := 0
	for _, b := range batches {
		if err := s.pipeline.SubmitBatch(b); err != nil {
			c.JSON(submitStatus(err), gin.H{"error": err.Error(), "accepted": accepted})
			return
		}
		accepted++
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// submitReadings accepts the same envelope as the ZeroMQ and MQTT transports.
func (s *HTTPServer) submitReadings(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := network.DecodeReadingMessage(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted, malformed := 0, 0
	for _, w := range msg.Readings {
		r, err := w.Reading()
		if err != nil {
			malformed++
			continue
		}
		if err := s.pipeline.SubmitReading(r); err != nil {
			c.JSON(submitStatus(err), gin.H{"error": err.Error(), "accepted": accepted, "malformed": malformed})
			return
		}
		accepted++
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "malformed": malformed})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrPipelineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
