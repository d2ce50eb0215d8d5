// Package chain provides EVM blockchain interaction utilities.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/infrastructure/resilience"
)

// SyncEventTopic0 is the keccak256 topic hash of the constant-product
// pool's Sync(uint112,uint112) event, emitted on every reserve update.
// This is the sole event the Chain Subscriber filters for.
const SyncEventTopic0 = "0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1"

// LogHandler is a callback invoked for every RawLog delivered by the
// subscription, in the order the transport delivered them.
type LogHandler func(log RawLog) error

// SubscriberConfig holds Chain Subscriber configuration.
type SubscriberConfig struct {
	ChainID string
	// Endpoints is the ordered set of streaming (ws/wss) RPC URLs to dial,
	// tried in order and rotated through on reconnect.
	Endpoints []string
	// Addresses is the pool_set to filter logs by.
	Addresses []string
	// ReconnectBaseDelay is the base exponential-backoff delay. Defaults to 5s.
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts bounds the total number of failed sessions since
	// Start before the subscriber gives up and reports a fatal error; the
	// count is not reset by a session that connected and delivered logs.
	// Defaults to 10.
	MaxReconnectAttempts int
	Logger               *logging.Logger
}

// Subscriber streams Sync-event logs from a chain's pool set over a
// websocket RPC connection, reconnecting with exponential backoff and
// endpoint rotation on disconnect.
//
// Handlers run synchronously, one log at a time, on the same goroutine that
// reads the socket: per-pool updates must be serialized into a total order
// (§5), and that only holds if one log is fully handled before the next is
// read.
type Subscriber struct {
	mu         sync.RWMutex
	cfg        SubscriberConfig
	handlers   []LogHandler
	endpointAt int
	running    bool
	stopCh     chan struct{}
	logger     *logging.Logger
	breaker    *resilience.CircuitBreaker
	onFatal    func(error)
}

// NewSubscriber creates a new Chain Subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("subscriber: at least one endpoint required")
	}
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("subscriber: at least one pool address required")
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv("chain_subscriber")
	}

	breaker := resilience.New(resilience.DefaultChainCBConfig(logger))

	return &Subscriber{
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		logger:  logger,
		breaker: breaker,
	}, nil
}

// OnLog registers a handler invoked for every delivered log.
func (s *Subscriber) OnLog(handler LogHandler) {
	if s == nil || handler == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// OnFatal registers a callback invoked once the subscriber exhausts its
// reconnection budget for the current session and gives up. The caller
// (the per-chain supervisor) decides whether to restart the subscriber
// from a fresh session.
func (s *Subscriber) OnFatal(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = fn
}

// Start begins the subscribe-and-stream loop in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("subscriber already running")
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop terminates the subscribe-and-stream loop.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// run drives the reconnection session: each iteration dials an endpoint,
// streams until the connection drops, and then backs off before rotating
// to the next endpoint. Every failed session counts as one attempt; the
// counter is never reset, including after a session that read logs
// successfully.
func (s *Subscriber) run(ctx context.Context) {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		traceID := logging.NewTraceID()
		sessionCtx := logging.WithTraceID(logging.WithChain(ctx, s.cfg.ChainID), traceID)

		err := s.breaker.Execute(sessionCtx, func() error {
			return s.streamOnce(sessionCtx)
		})
		if err == nil {
			// streamOnce only returns nil on a clean Stop()/ctx cancellation.
			return
		}

		attempts++
		s.logger.WithContext(sessionCtx).WithError(err).WithFields(map[string]interface{}{
			"attempt": attempts,
		}).Warn("chain subscriber disconnected")

		if attempts >= s.cfg.MaxReconnectAttempts {
			s.mu.RLock()
			onFatal := s.onFatal
			s.mu.RUnlock()
			if onFatal != nil {
				onFatal(fmt.Errorf("exhausted %d reconnect attempts: %w", attempts, err))
			}
			return
		}

		delay := backoffDelay(s.cfg.ReconnectBaseDelay, attempts)
		s.rotateEndpoint()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes exponential backoff with jitter, capped at six
// multiples of base (base, 2x, 4x, ..., 32x) to keep the ceiling bounded
// on chains with many consecutive endpoint failures.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	const maxMultiple = 32
	multiple := 1
	for i := 1; i < attempt && multiple < maxMultiple; i++ {
		multiple *= 2
	}
	if multiple > maxMultiple {
		multiple = maxMultiple
	}
	delay := base * time.Duration(multiple)
	jitter := time.Duration(rand.Float64()*0.4*float64(delay)) - time.Duration(0.2*float64(delay))
	return delay + jitter
}

func (s *Subscriber) rotateEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpointAt = (s.endpointAt + 1) % len(s.cfg.Endpoints)
}

func (s *Subscriber) currentEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Endpoints[s.endpointAt]
}

// streamOnce dials one websocket session, subscribes to Sync-event logs
// for the configured pool set, and delivers every notification to the
// registered handlers until the connection errors, the context is
// cancelled, or Stop() is called.
func (s *Subscriber) streamOnce(ctx context.Context) error {
	endpoint := s.currentEndpoint()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	sub := RPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_subscribe",
		Params: []interface{}{
			"logs",
			map[string]interface{}{
				"address": s.cfg.Addresses,
				"topics":  []interface{}{SyncEventTopic0},
			},
		},
		ID: 1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var subResp RPCResponse
	if err := conn.ReadJSON(&subResp); err != nil {
		return fmt.Errorf("read subscribe response: %w", err)
	}
	if subResp.Error != nil {
		return fmt.Errorf("subscribe rejected: %w", subResp.Error)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-done:
			return
		}
		conn.Close()
	}()
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopCh:
				return nil
			default:
			}
			return fmt.Errorf("read message: %w", err)
		}

		var notif RPCNotification
		if err := json.Unmarshal(message, &notif); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("malformed subscription notification")
			continue
		}
		if notif.Method != "eth_subscription" {
			continue
		}

		var log RawLog
		if err := json.Unmarshal(notif.Params.Result, &log); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("malformed log payload")
			continue
		}

		s.dispatch(ctx, log)
	}
}

// dispatch runs every registered handler for log in order, on the calling
// goroutine (the socket read loop). Handling one log fully before reading
// the next is what keeps per-pool state transitions in a total order (§5);
// a slow handler slows the whole chain's ingestion rather than racing
// ahead of it.
func (s *Subscriber) dispatch(ctx context.Context, log RawLog) {
	s.mu.RLock()
	handlers := append([]LogHandler(nil), s.handlers...)
	s.mu.RUnlock()

	fields := map[string]interface{}{
		"address":      log.Address,
		"block_number": log.BlockNumber,
		"log_index":    log.LogIndex,
	}

	for _, handler := range handlers {
		if err := handler(log); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(fields).Warn("log handler failed")
		}
	}
}
