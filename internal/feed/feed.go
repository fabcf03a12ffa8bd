// Package feed streams chat messages from monitored channels over a
// WebSocket gateway, surviving disconnects with automatic reconnect and
// resubscribe.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"solana-sniper/internal/observability"
)

// Message is a single chat message from a monitored channel.
type Message struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp_ms"`
}

// Source yields chat messages until closed. The channel is closed when the
// source shuts down.
type Source interface {
	Messages() <-chan Message
	Close() error
}

// Config tunes WebSocket source behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the message channel capacity.
	Buffer int
}

// DefaultConfig returns default source configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// gateway frame operations.
const (
	opSubscribe = "subscribe"
	opMessage   = "message"
)

type gatewayFrame struct {
	Op        string   `json:"op"`
	Channels  []string `json:"channels,omitempty"`
	ChannelID string   `json:"channel_id,omitempty"`
	Text      string   `json:"text,omitempty"`
	Timestamp int64    `json:"timestamp_ms,omitempty"`
}

// WSSource implements Source over gorilla/websocket.
type WSSource struct {
	endpoint string
	channels []string
	config   Config
	log      zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	messages chan Message
	done     chan struct{}
	wg       sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSSource connects to the gateway and subscribes to the given channels.
func NewWSSource(ctx context.Context, endpoint string, channels []string, log zerolog.Logger, config *Config) (*WSSource, error) {
	if len(channels) == 0 {
		return nil, errors.New("no channels to subscribe")
	}

	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	s := &WSSource{
		endpoint: endpoint,
		channels: append([]string(nil), channels...),
		config:   cfg,
		log:      log.With().Str("component", "feed").Logger(),
		messages: make(chan Message, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.closeConn()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Messages returns the message stream. Closed on shutdown.
func (s *WSSource) Messages() <-chan Message {
	return s.messages
}

// connect establishes the WebSocket connection.
func (s *WSSource) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// subscribe sends the channel subscription frame on the current connection.
func (s *WSSource) subscribe() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return errors.New("not connected")
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(gatewayFrame{Op: opSubscribe, Channels: s.channels}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close shuts the source down and closes the message channel.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)
	s.closeConn()
	s.wg.Wait()
	close(s.messages)
	return nil
}

func (s *WSSource) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()
}

// readLoop reads frames and dispatches messages, reconnecting on failure.
func (s *WSSource) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		// No connection while a reconnect is in flight; wait for it.
		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			s.log.Warn().Err(err).Msg("read failed, scheduling reconnect")
			if !s.reconnecting.Swap(true) {
				go s.reconnect()
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		s.handleFrame(raw)
	}
}

// reconnect re-dials and resubscribes after a dropped connection, retrying
// with bounded exponential backoff until it succeeds or the source closes.
// The feed must outlive gateway outages of any length.
func (s *WSSource) reconnect() {
	defer s.reconnecting.Store(false)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	delay := s.config.ReconnectDelay
	for !s.closed.Load() {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect dial failed")
			continue
		}

		if err := s.subscribe(); err != nil {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("resubscribe failed")
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.connMu.Unlock()
			continue
		}

		observability.RecordFeedReconnect()
		s.log.Info().Int("channels", len(s.channels)).Msg("reconnected and resubscribed")
		return
	}
}

// handleFrame parses a gateway frame and forwards chat messages.
func (s *WSSource) handleFrame(raw []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log.Debug().Err(err).Msg("skipping malformed frame")
		return
	}
	if frame.Op != opMessage {
		return
	}

	msg := Message{
		ChannelID: frame.ChannelID,
		Text:      frame.Text,
		Timestamp: frame.Timestamp,
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	select {
	case s.messages <- msg:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
