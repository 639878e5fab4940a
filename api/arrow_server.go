package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/data"
	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
)

// ArrowConfig configures the Arrow IPC server.
type ArrowConfig struct {
	Address     string
	Engine      engine.Config
	IdleTimeout time.Duration
}

// DefaultArrowConfig returns default configuration.
func DefaultArrowConfig() ArrowConfig {
	return ArrowConfig{
		Address:     ":50052",
		Engine:      engine.DefaultConfig(),
		IdleTimeout: 5 * time.Minute,
	}
}

// ArrowStats contains server statistics.
type ArrowStats struct {
	Address        string `json:"address"`
	IsRunning      bool   `json:"is_running"`
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  int64  `json:"total_sessions"`
	AuthFailures   int64  `json:"auth_failures"`
	FramesIn       int64  `json:"frames_in"`
	StepsRun       int64  `json:"steps_run"`
}

// ArrowServer runs batch evaluation sessions over TCP. Every connection gets
// its own Engine, so sessions never share sensor state.
type ArrowServer struct {
	config    ArrowConfig
	auth      *Authenticator
	metrics   *Metrics
	converter *data.Converter
	codec     *data.IPCCodec

	listener net.Listener
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup

	active        int
	totalSessions int64
	authFailures  int64
	framesIn      int64
	stepsRun      int64
	mu            sync.Mutex
}

// NewArrowServer creates a new ArrowServer. auth and metrics may be nil.
func NewArrowServer(config ArrowConfig, auth *Authenticator, metrics *Metrics) (*ArrowServer, error) {
	if err := config.Engine.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	return &ArrowServer{
		config:    config,
		auth:      auth,
		metrics:   metrics,
		converter: data.NewConverter(),
		codec:     data.NewIPCCodec(),
		quit:      make(chan struct{}),
	}, nil
}

// StartAsync starts accepting connections in a background goroutine.
func (s *ArrowServer) StartAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(lis)

	log.Info("arrow server listening", "address", lis.Addr().String(), "auth", s.auth.IsEnabled())
	return nil
}

// Addr returns the bound address, or nil before StartAsync.
func (s *ArrowServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for the accept loop to exit.
// Open sessions end when their clients disconnect or go idle.
func (s *ArrowServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	if err := s.listener.Close(); err != nil {
		log.Debug("arrow listener close", "error", err.Error())
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("arrow server stopped")
}

// GetStats returns current server statistics.
func (s *ArrowServer) GetStats() ArrowStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ArrowStats{
		IsRunning:      s.running,
		ActiveSessions: s.active,
		TotalSessions:  s.totalSessions,
		AuthFailures:   s.authFailures,
		FramesIn:       s.framesIn,
		StepsRun:       s.stepsRun,
	}
	if s.listener != nil {
		stats.Address = s.listener.Addr().String()
	}
	return stats
}

func (s *ArrowServer) acceptLoop(lis net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Debug("arrow accept", "error", err.Error())
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *ArrowServer) sessionOpened() {
	s.mu.Lock()
	s.active++
	s.totalSessions++
	active := s.active
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ArrowSessions.Set(float64(active))
	}
}

func (s *ArrowServer) sessionClosed() {
	s.mu.Lock()
	s.active--
	active := s.active
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ArrowSessions.Set(float64(active))
	}
}

// arrowSession is the per-connection state.
type arrowSession struct {
	id            string
	conn          net.Conn
	engine        *engine.Engine
	authenticated bool
}

func (s *ArrowServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	eng, err := engine.New(s.config.Engine)
	if err != nil {
		// config was validated in NewArrowServer
		log.Error("arrow session engine", "error", err.Error())
		return
	}
	sess := &arrowSession{
		id:            uuid.NewString(),
		conn:          conn,
		engine:        eng,
		authenticated: !s.auth.IsEnabled(),
	}

	s.sessionOpened()
	defer s.sessionClosed()
	log.Debug("arrow session opened", "session", sess.id, "remote", conn.RemoteAddr().String())

	for {
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		frame, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("arrow session read", "session", sess.id, "error", err.Error())
			}
			return
		}

		s.mu.Lock()
		s.framesIn++
		s.mu.Unlock()

		if !s.handleFrame(sess, frame) {
			return
		}
	}
}

// handleFrame answers one frame and reports whether the session stays open.
func (s *ArrowServer) handleFrame(sess *arrowSession, frame Frame) bool {
	if frame.Kind == FrameAuth {
		return s.handleAuth(sess, frame.Payload)
	}
	if !sess.authenticated {
		_ = WriteFrame(sess.conn, FrameError, []byte(ErrAuthRequired.Error()))
		return false
	}

	switch frame.Kind {
	case FrameReadings:
		payload, err := s.evaluate(sess, frame.Payload)
		if err != nil {
			return WriteFrame(sess.conn, FrameError, []byte(err.Error())) == nil
		}
		return WriteFrame(sess.conn, FrameResults, payload) == nil
	case FrameReset:
		sess.engine.Reset()
		return WriteFrame(sess.conn, FrameOK, nil) == nil
	default:
		return WriteFrame(sess.conn, FrameError, []byte(fmt.Sprintf("unsupported frame kind %s", frame.Kind))) == nil
	}
}

func (s *ArrowServer) handleAuth(sess *arrowSession, payload []byte) bool {
	var msg AuthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.reply(sess, AuthResponse{Error: "invalid auth message"})
		return false
	}
	if err := s.auth.ValidateToken(msg.Token); err != nil {
		s.mu.Lock()
		s.authFailures++
		s.mu.Unlock()
		log.Warn("arrow auth failed", "session", sess.id, "remote", sess.conn.RemoteAddr().String())
		s.reply(sess, AuthResponse{Error: err.Error()})
		return false
	}
	sess.authenticated = true
	return s.reply(sess, AuthResponse{Success: true, SessionID: sess.id})
}

func (s *ArrowServer) reply(sess *arrowSession, resp AuthResponse) bool {
	body, err := json.Marshal(resp)
	if err != nil {
		return false
	}
	kind := FrameOK
	if !resp.Success {
		kind = FrameError
	}
	return WriteFrame(sess.conn, kind, body) == nil
}

// evaluate steps the session engine through every batch in an IPC payload.
// A payload reaching behind the engine's last timestep is rejected whole.
func (s *ArrowServer) evaluate(sess *arrowSession, payload []byte) ([]byte, error) {
	records, err := s.codec.DecodeAll(payload)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	defer data.ReleaseAll(records)

	var batches []engine.Batch
	for _, rec := range records {
		bs, err := s.converter.RecordToBatches(rec)
		if err != nil {
			return nil, err
		}
		batches = append(batches, bs...)
	}
	if len(batches) == 0 {
		return nil, data.ErrEmptyInput
	}
	batches = mergeBatches(batches)

	if st := sess.engine.Stats(); st.Steps > 0 && batches[0].Timestamp < st.LastTimestamp {
		return nil, fmt.Errorf("%w: got %d, last %d", engine.ErrOutOfOrder, batches[0].Timestamp, st.LastTimestamp)
	}

	results := make([]engine.ConsensusResult, 0, len(batches))
	for _, b := range batches {
		r, err := sess.engine.Step(b)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	s.mu.Lock()
	s.stepsRun += int64(len(results))
	s.mu.Unlock()

	record, err := s.converter.ResultsToRecord(results)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return s.codec.EncodeAll([]arrow.Record{record})
}

// mergeBatches joins batches that share a timestamp and orders them by time.
func mergeBatches(batches []engine.Batch) []engine.Batch {
	if len(batches) < 2 {
		return batches
	}
	byTS := make(map[int64]int, len(batches))
	merged := make([]engine.Batch, 0, len(batches))
	for _, b := range batches {
		if i, ok := byTS[b.Timestamp]; ok {
			merged[i].Samples = append(merged[i].Samples, b.Samples...)
			continue
		}
		byTS[b.Timestamp] = len(merged)
		merged = append(merged, engine.Batch{
			Timestamp: b.Timestamp,
			Samples:   append([]engine.Sample(nil), b.Samples...),
		})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
