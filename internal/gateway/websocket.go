package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/metrics"
)

// Stream maintains one websocket session against the venue. It owns the
// reconnect loop: on any read failure it redials with capped exponential
// backoff, replays the subscription set, and resumes. Messages fan out on
// a single channel keyed by topic; the consumer demultiplexes.
type Stream struct {
	client  *Client
	private bool
	capMS   int
	maxAtt  int
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]bool

	out chan StreamMessage
}

// NewStream creates a stream bound to a REST client for token handshakes
func NewStream(client *Client, cfg config.ExchangeConfig, private bool) *Stream {
	capMS := cfg.ReconnectCapMS
	if capMS <= 0 {
		capMS = 30000
	}
	maxAtt := cfg.ReconnectMax
	if maxAtt <= 0 {
		maxAtt = 10
	}
	return &Stream{
		client:  client,
		private: private,
		capMS:   capMS,
		maxAtt:  maxAtt,
		logger:  config.NewLogger("stream"),
		topics:  make(map[string]bool),
		out:     make(chan StreamMessage, 256),
	}
}

// Messages returns the demultiplexed frame channel. It closes when the
// stream gives up reconnecting or the context ends.
func (s *Stream) Messages() <-chan StreamMessage { return s.out }

// Subscribe adds a topic and sends the subscription if connected. Topics
// survive reconnects: the whole set is replayed after every redial.
func (s *Stream) Subscribe(topic string) error {
	s.mu.Lock()
	s.topics[topic] = true
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil // sent on connect
	}
	return s.sendSubscribe(conn, topic, true)
}

// Unsubscribe removes a topic
func (s *Stream) Unsubscribe(topic string) error {
	s.mu.Lock()
	delete(s.topics, topic)
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.sendSubscribe(conn, topic, false)
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, topic string, subscribe bool) error {
	typ := "subscribe"
	if !subscribe {
		typ = "unsubscribe"
	}
	msg := map[string]any{
		"id":       uuid.NewString(),
		"type":     typ,
		"topic":    topic,
		"response": true,
	}
	if s.private {
		msg["privateChannel"] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s for %s: %w", typ, topic, err)
	}
	return nil
}

// Run connects and pumps frames until the context ends or the reconnect
// budget is exhausted. It is the stream's only long-lived goroutine entry.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.out)

	attempts := 0
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pingEvery, err := s.connect(ctx)
		if err != nil {
			attempts++
			if attempts > s.maxAtt {
				s.logger.Error().Int("attempts", attempts-1).Msg("Websocket reconnect budget exhausted")
				return fmt.Errorf("websocket reconnect failed after %d attempts: %w", attempts-1, err)
			}
			metrics.WSReconnects.Inc()
			s.logger.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("backoff", backoff).
				Msg("Websocket connect failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := time.Duration(s.capMS) * time.Millisecond; backoff > max {
				backoff = max
			}
			continue
		}

		// healthy session resets the budget
		attempts = 0
		backoff = time.Second

		err = s.pump(ctx, pingEvery)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.WSReconnects.Inc()
		s.logger.Warn().Err(err).Msg("Websocket session ended, reconnecting")
	}
}

// connect performs the token handshake and dials the stream endpoint.
// Returns the ping cadence (half the server's interval).
func (s *Stream) connect(ctx context.Context) (time.Duration, error) {
	info, err := s.client.wsConnectInfo(ctx, s.private)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stream token: %w", err)
	}
	if len(info.InstanceServers) == 0 {
		return 0, fmt.Errorf("stream token carried no servers")
	}
	server := info.InstanceServers[0]

	endpoint := server.Endpoint + "?token=" + info.Token + "&connectId=" + uuid.NewString()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to dial stream: %w", err)
	}

	// the first frame must be the welcome
	var welcome StreamMessage
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return 0, fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		conn.Close()
		return 0, fmt.Errorf("unexpected first frame type %q", welcome.Type)
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	for _, t := range topics {
		if err := s.sendSubscribe(conn, t, true); err != nil {
			conn.Close()
			return 0, err
		}
	}

	pingEvery := 9 * time.Second
	if server.PingInterval > 0 {
		pingEvery = time.Duration(server.PingInterval/2) * time.Millisecond
	}
	s.logger.Info().
		Str("endpoint", server.Endpoint).
		Int("topics", len(topics)).
		Bool("private", s.private).
		Msg("Websocket connected")
	return pingEvery, nil
}

// pump reads frames until failure, pinging on the side
func (s *Stream) pump(ctx context.Context, pingEvery time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn, pingEvery)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}

		switch msg.Type {
		case "pong", "ack", "welcome":
			// keepalive and handshake traffic stays internal
		case "error":
			s.logger.Error().Int("code", msg.Code).Str("msg", msg.Msg).Msg("Stream error frame")
			if err := s.publish(ctx, msg); err != nil {
				return err
			}
		case "message":
			if err := s.publish(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// publish hands a frame to the consumer. The channel is bounded, so a
// lagging consumer backpressures the read loop instead of losing frames;
// the ping goroutine keeps the session alive meanwhile.
func (s *Stream) publish(ctx context.Context, msg StreamMessage) error {
	select {
	case s.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, _ := json.Marshal(map[string]string{
				"id":   strconv.FormatInt(time.Now().UnixNano(), 10),
				"type": "ping",
			})
			s.mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, ping)
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
