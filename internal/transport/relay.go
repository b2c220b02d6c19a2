package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/metrics"
	"github.com/glitchmath/duel/internal/multiplayer"
	"github.com/glitchmath/duel/internal/wire"
)

// RelayChannel is a match channel carried over a relay server WebSocket room.
// The relay echoes every published message back to the sender, matching the
// loopback semantics of the Redis transport.
type RelayChannel struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[int]func(wire.Message)
	nextID   int
	closed   bool
}

var _ multiplayer.Channel = (*RelayChannel)(nil)

// DialRelay connects to the relay server and joins the room for one match.
// baseURL is the relay's ws:// or wss:// address.
func DialRelay(ctx context.Context, baseURL, room string, logger zerolog.Logger) (*RelayChannel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.String(), err)
	}

	c := &RelayChannel{
		conn:     conn,
		logger:   logger.With().Str("component", "relay_channel").Str("room", room).Logger(),
		handlers: make(map[int]func(wire.Message)),
	}
	go c.readPump()
	return c, nil
}

// Publish writes one message to the room.
func (c *RelayChannel) Publish(_ context.Context, msg wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		metrics.PublishErrors.Inc()
		return fmt.Errorf("write: %w", err)
	}
	metrics.MessagesPublished.WithLabelValues(msg.Type).Inc()
	return nil
}

// Subscribe registers a handler for every message echoed by the relay. The
// returned stop function removes only this handler; the socket stays open
// until Close.
func (c *RelayChannel) Subscribe(_ context.Context, handler func(wire.Message)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("relay channel closed")
	}
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}, nil
}

// Close tears down the socket and drops all handlers.
func (c *RelayChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.handlers = make(map[int]func(wire.Message))
	c.mu.Unlock()
	c.conn.Close()
}

func (c *RelayChannel) readPump() {
	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn().Err(err).Msg("relay read failed")
			}
			return
		}
		metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()

		c.mu.Lock()
		handlers := make([]func(wire.Message), 0, len(c.handlers))
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}
