package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/go-zeromq/zmq4"
	logger "github.com/multiversx/mx-chain-logger-go"
)

var log = logger.GetOrCreate("fusion/network")

// ZmqConfig configures the ZeroMQ ingest socket.
type ZmqConfig struct {
	NodeID          string        `json:"node_id"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReplayTolerance time.Duration `json:"replay_tolerance"`
}

// replayCleanInterval is how often the transports prune their replay guards.
const replayCleanInterval = 30 * time.Second

// DefaultZmqConfig returns a configuration with sensible defaults.
func DefaultZmqConfig() ZmqConfig {
	return ZmqConfig{
		NodeID:          "fusion-ingest",
		Host:            "127.0.0.1",
		Port:            5560,
		ReplayTolerance: 60 * time.Second,
	}
}

// ZmqIngest binds a ROUTER socket and forwards every reading it receives to a sink.
type ZmqIngest struct {
	config ZmqConfig

	ctx    context.Context
	cancel context.CancelFunc

	router     zmq4.Socket
	dispatcher *dispatcher
	guard      *ReplayGuard

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewZmqIngest creates a ZeroMQ ingest endpoint. Port 0 picks a free port.
func NewZmqIngest(config ZmqConfig, sink ReadingSink) *ZmqIngest {
	guard := NewReplayGuard(config.ReplayTolerance)
	return &ZmqIngest{
		config:     config,
		guard:      guard,
		dispatcher: newDispatcher("zmq", sink, guard),
	}
}

// Start binds the socket and begins receiving.
func (z *ZmqIngest) Start() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.running {
		return ErrAlreadyRunning
	}

	z.ctx, z.cancel = context.WithCancel(context.Background())
	z.router = zmq4.NewRouter(z.ctx, zmq4.WithID(zmq4.SocketIdentity(z.config.NodeID)))

	address := fmt.Sprintf("tcp://%s:%d", z.config.Host, z.config.Port)
	if err := z.router.Listen(address); err != nil {
		z.cancel()
		return fmt.Errorf("failed to bind router: %w", err)
	}
	z.running = true

	z.wg.Add(1)
	go z.receiverLoop()

	z.wg.Add(1)
	go z.replayCacheCleaner()

	log.Info("zmq ingest listening", "address", z.addressLocked())
	return nil
}

// Stop closes the socket and waits for the receiver to exit.
func (z *ZmqIngest) Stop() {
	z.mu.Lock()
	if !z.running {
		z.mu.Unlock()
		return
	}
	z.running = false
	z.mu.Unlock()

	z.cancel()
	if err := z.router.Close(); err != nil {
		log.Trace("router close", "error", err.Error())
	}
	z.wg.Wait()

	log.Info("zmq ingest stopped", "node", z.config.NodeID)
}

// Address returns the bound endpoint, including the port picked for port 0.
func (z *ZmqIngest) Address() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.addressLocked()
}

func (z *ZmqIngest) addressLocked() string {
	if z.router != nil {
		if addr := z.router.Addr(); addr != nil {
			return "tcp://" + addr.String()
		}
	}
	return fmt.Sprintf("tcp://%s:%d", z.config.Host, z.config.Port)
}

// receiverLoop continuously receives messages from the ROUTER socket.
func (z *ZmqIngest) receiverLoop() {
	defer z.wg.Done()

	for {
		msg, err := z.router.Recv()
		if err != nil {
			select {
			case <-z.ctx.Done():
				return
			default:
				continue
			}
		}
		if len(msg.Frames) == 0 {
			continue
		}

		// The ROUTER prepends the peer identity; the envelope is the last frame.
		z.dispatcher.handle(msg.Frames[len(msg.Frames)-1])
	}
}

// replayCacheCleaner periodically cleans old entries from the replay guard.
func (z *ZmqIngest) replayCacheCleaner() {
	defer z.wg.Done()

	ticker := time.NewTicker(replayCleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-z.ctx.Done():
			return
		case <-ticker.C:
			z.guard.Clean()
		}
	}
}

// ZmqStats contains ingest statistics.
type ZmqStats struct {
	NodeID    string      `json:"node_id"`
	Address   string      `json:"address"`
	IsRunning bool        `json:"is_running"`
	Nonces    int         `json:"nonces"`
	Ingest    IngestStats `json:"ingest"`
}

// GetStats returns current ingest statistics.
func (z *ZmqIngest) GetStats() ZmqStats {
	z.mu.RLock()
	defer z.mu.RUnlock()

	return ZmqStats{
		NodeID:    z.config.NodeID,
		Address:   z.addressLocked(),
		IsRunning: z.running,
		Nonces:    z.guard.Size(),
		Ingest:    z.dispatcher.getStats(),
	}
}

// ZmqSensor is the gateway side: a DEALER that pushes readings to a ZmqIngest.
type ZmqSensor struct {
	source string
	ctx    context.Context
	cancel context.CancelFunc
	dealer zmq4.Socket
	mu     sync.Mutex
}

// DialZmqSensor connects a DEALER socket to address.
func DialZmqSensor(source, address string) (*ZmqSensor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(source)))

	if err := dealer.Dial(address); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &ZmqSensor{
		source: source,
		ctx:    ctx,
		cancel: cancel,
		dealer: dealer,
	}, nil
}

// Send pushes readings in one envelope.
func (s *ZmqSensor) Send(readings ...engine.SensorReading) error {
	data, err := NewReadingMessage(s.source, readings).Encode()
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw pushes an already encoded payload.
func (s *ZmqSensor) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dealer.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Close releases the socket.
func (s *ZmqSensor) Close() error {
	s.cancel()
	return s.dealer.Close()
}
