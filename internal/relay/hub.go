// Package relay implements a dumb fan-out WebSocket server for match
// channels. It carries no game logic: every message published to a room is
// echoed to every connection in that room, the sender included, which gives
// clients the same loopback semantics as the Redis transport.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/wire"
)

const sendQueueSize = 256

// Keepalive knobs. Variables so tests can tighten them; a connection is
// dropped when neither traffic nor a pong arrives within pongWait.
var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub tracks connections per room and fans messages out.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Connection]bool
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Connection]bool),
		logger: logger.With().Str("component", "relay_hub").Logger(),
	}
}

// ServeHTTP upgrades the request and joins the connection to the room named
// by the ?room= query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room parameter", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	conn := newConnection(ws, h.logger)
	h.join(room, conn)
	h.logger.Info().Str("room", room).Msg("connection joined")

	go conn.writePump()
	conn.readPump(func(msg wire.Message) {
		h.broadcast(room, msg)
	})

	h.leave(room, conn)
	conn.close()
	h.logger.Info().Str("room", room).Msg("connection left")
}

func (h *Hub) join(room string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Connection]bool)
		h.rooms[room] = members
	}
	members[conn] = true
}

func (h *Hub) leave(room string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) broadcast(room string, msg wire.Message) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[room]))
	for conn := range h.rooms[room] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.send(msg); err != nil {
			h.logger.Warn().Err(err).Str("room", room).Msg("drop slow connection")
		}
	}
}

// RoomSize reports the number of live connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connection wraps one WebSocket with a buffered send queue so a slow reader
// cannot block the broadcast path.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan wire.Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

func newConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan wire.Message, sendQueueSize),
		logger: logger,
	}
}

func (c *Connection) send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	c.conn.Close()
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump(handler func(wire.Message)) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handler(msg)
	}
}

type relayError string

func (e relayError) Error() string { return string(e) }

const (
	errConnectionClosed = relayError("connection is closed")
	errSendQueueFull    = relayError("send queue is full")
)
