// Package alchemy provides a newHeads subscriber over a node's WebSocket API.
package alchemy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/stl-liquidator/internal/pkg/hexutil"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that Subscriber implements outbound.BlockSubscriber
var _ outbound.BlockSubscriber = (*Subscriber)(nil)

// Subscriber delivers new block headers from an eth_subscribe("newHeads")
// subscription and reconnects with exponential backoff when the connection drops.
//
// A Subscriber can be subscribed again after Unsubscribe; every Subscribe
// returns a fresh channel.
type Subscriber struct {
	config SubscriberConfig
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	headers chan outbound.BlockHeader
	cancel  context.CancelFunc
	active  bool
	wg      sync.WaitGroup

	lastBlockTime atomic.Int64
}

// NewSubscriber creates a new WebSocket subscriber with automatic reconnection.
func NewSubscriber(config SubscriberConfig) (*Subscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()
	return &Subscriber{
		config: config,
		logger: config.Logger.With("component", "newheads-subscriber"),
	}, nil
}

// Subscribe starts listening for new block headers. The returned channel is
// closed by Unsubscribe.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan outbound.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil, errors.New("already subscribed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.headers = make(chan outbound.BlockHeader, s.config.ChannelBufferSize)
	s.cancel = cancel
	s.active = true
	s.lastBlockTime.Store(0)

	s.wg.Add(1)
	go s.connectionManager(runCtx, s.headers)

	return s.headers, nil
}

// Unsubscribe closes the connection, waits for the background goroutines and
// closes the header channel. Calling it when not subscribed is a no-op.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.cancel()
	conn := s.conn
	s.conn = nil
	headers := s.headers
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	close(headers)
	return err
}

// HealthCheck verifies the subscription is connected and receiving blocks.
func (s *Subscriber) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.active {
		return errors.New("subscriber is not running")
	}

	if last := s.lastBlockTime.Load(); last > 0 {
		since := time.Since(time.Unix(0, last))
		if since > s.config.HealthTimeout {
			return fmt.Errorf("no blocks received for %v (threshold: %v)", since.Round(time.Second), s.config.HealthTimeout)
		}
	}

	if s.conn == nil {
		return errors.New("not connected")
	}
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.PongTimeout)); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// connectionManager keeps one connection alive until ctx is cancelled.
func (s *Subscriber) connectionManager(ctx context.Context, headers chan<- outbound.BlockHeader) {
	defer s.wg.Done()

	backoffCfg := retry.Config{
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
	}
	backoff := s.config.InitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connectAndSubscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to connect", "error", err, "backoff", backoff)
			if retry.Sleep(ctx, backoff) != nil {
				return
			}
			backoff = retry.NextBackoff(backoffCfg, backoff)
			continue
		}

		backoff = s.config.InitialBackoff
		s.logger.Info("subscribed to newHeads")

		s.readLoop(ctx, conn, headers)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("websocket connection lost, reconnecting")
	}
}

// connectAndSubscribe dials and sends eth_subscribe("newHeads").
func (s *Subscriber) connectAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WebSocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()

	fail := func(err error) (*websocket.Conn, error) {
		s.closeConnection(conn)
		return nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return fail(fmt.Errorf("failed to set read deadline: %w", err))
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fail(fmt.Errorf("failed to send subscription request: %w", err))
	}

	var resp jsonRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fail(fmt.Errorf("failed to read subscription response: %w", err))
	}
	if resp.Error != nil {
		return fail(fmt.Errorf("subscription failed: %w", resp.Error))
	}
	return conn, nil
}

// readLoop forwards headers from conn until the connection fails or ctx is done.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn, headers chan<- outbound.BlockHeader) {
	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	stop := make(chan struct{})
	readErr := make(chan error, 1)
	blockChan := make(chan outbound.BlockHeader, 1)

	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("failed to set read deadline: %w", err)
				return
			}
			var msg jsonRPCResponse
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			if msg.Method != "eth_subscription" || msg.Params == nil {
				continue
			}
			var params subscriptionParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.logger.Warn("failed to parse subscription params", "error", err)
				continue
			}
			select {
			case blockChan <- params.Result:
			case <-stop:
				return
			}
		}
	}()

	defer func() {
		close(stop)
		s.closeConnection(conn)
		reader.Wait()
	}()

	var lastHash string
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if ctx.Err() == nil {
				s.logger.Warn("read error", "error", err)
			}
			return
		case header := <-blockChan:
			if header.Hash != "" && header.Hash == lastHash {
				continue
			}
			lastHash = header.Hash
			s.forward(header, headers)
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.PongTimeout)); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// forward hands header to the consumer without blocking. When the consumer
// is behind the header is dropped.
func (s *Subscriber) forward(header outbound.BlockHeader, headers chan<- outbound.BlockHeader) {
	blockNum, _ := hexutil.ParseUint64(header.Number)
	select {
	case headers <- header:
		s.lastBlockTime.Store(time.Now().UnixNano())
		s.logger.Debug("block header forwarded", "block", blockNum, "hash", truncateHash(header.Hash))
	default:
		s.logger.Warn("block header channel full, dropping block",
			"block", blockNum,
			"hash", truncateHash(header.Hash))
	}
}

func (s *Subscriber) closeConnection(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}
