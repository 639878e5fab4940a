package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/data"
	"github.com/VanDung-dev/HieraChain-Fusion/engine"
)

// ErrRemote wraps error frames sent by the server.
var ErrRemote = errors.New("arrow server error")

// ArrowClient is a single evaluation session against an ArrowServer.
// Calls are serialized; the session is request/response.
type ArrowClient struct {
	conn      net.Conn
	sessionID string
	timeout   time.Duration
	converter *data.Converter
	codec     *data.IPCCodec
	mu        sync.Mutex
}

// DialArrow connects to addr and authenticates when token is non-empty.
func DialArrow(addr, token string, timeout time.Duration) (*ArrowClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c := &ArrowClient{
		conn:      conn,
		timeout:   timeout,
		converter: data.NewConverter(),
		codec:     data.NewIPCCodec(),
	}
	if token != "" {
		if err := c.authenticate(token); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// SessionID is the id assigned by the server, or "" when auth is disabled.
func (c *ArrowClient) SessionID() string {
	return c.sessionID
}

func (c *ArrowClient) authenticate(token string) error {
	body, err := json.Marshal(AuthMessage{Type: "auth", Token: token})
	if err != nil {
		return err
	}
	frame, err := c.roundTrip(FrameAuth, body)
	if err != nil {
		return err
	}
	var resp AuthResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return fmt.Errorf("invalid auth response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	c.sessionID = resp.SessionID
	return nil
}

// Evaluate steps the session engine through batches and returns one result
// per distinct timestamp, in timestamp order.
func (c *ArrowClient) Evaluate(batches []engine.Batch) ([]engine.ConsensusResult, error) {
	record, err := c.converter.BatchesToRecord(batches)
	if err != nil {
		return nil, err
	}
	payload, err := c.codec.Encode(record)
	record.Release()
	if err != nil {
		return nil, err
	}

	frame, err := c.roundTrip(FrameReadings, payload)
	if err != nil {
		return nil, err
	}
	if frame.Kind != FrameResults {
		return nil, fmt.Errorf("unexpected %s frame", frame.Kind)
	}

	records, err := c.codec.DecodeAll(frame.Payload)
	if err != nil {
		return nil, err
	}
	defer data.ReleaseAll(records)

	var results []engine.ConsensusResult
	for _, rec := range records {
		rs, err := c.converter.RecordToResults(rec)
		if err != nil {
			return nil, err
		}
		results = append(results, rs...)
	}
	return results, nil
}

// Reset clears the session engine.
func (c *ArrowClient) Reset() error {
	frame, err := c.roundTrip(FrameReset, nil)
	if err != nil {
		return err
	}
	if frame.Kind != FrameOK {
		return fmt.Errorf("unexpected %s frame", frame.Kind)
	}
	return nil
}

// Close ends the session.
func (c *ArrowClient) Close() error {
	return c.conn.Close()
}

func (c *ArrowClient) roundTrip(kind FrameKind, payload []byte) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := WriteFrame(c.conn, kind, payload); err != nil {
		return Frame{}, err
	}
	frame, err := ReadFrame(c.conn)
	if err != nil {
		return Frame{}, err
	}
	if frame.Kind == FrameError {
		msg := string(frame.Payload)
		var resp AuthResponse
		if json.Unmarshal(frame.Payload, &resp) == nil && resp.Error != "" {
			msg = resp.Error
		}
		return Frame{}, fmt.Errorf("%w: %s", ErrRemote, msg)
	}
	return frame, nil
}
