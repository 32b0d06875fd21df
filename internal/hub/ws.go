package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per consumer.
	sendBufferSize = 256
)

// ConsumerIDHeader carries the consumer id on the upgrade response so a
// client can look up its own latest batch.
const ConsumerIDHeader = "X-Consumer-ID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// actionMsg is a command sent by a consumer, e.g.
// {"action":"select","instrument":"NQ"}.
type actionMsg struct {
	Action     string `json:"action"`
	Instrument string `json:"instrument"`
}

// wsConn adapts a gorilla websocket connection to Conn. Events are encoded
// in Send and written by writePump.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSConn(id string, conn *websocket.Conn) *wsConn {
	return &wsConn{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("hub: encode %s: %w", ev.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return domain.ErrSlowConsumer
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and connects
// it as a consumer.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	header := http.Header{}
	header.Set(ConsumerIDHeader, id)
	ws, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newWSConn(id, ws)
	go c.writePump()

	if err := h.Connect(c); err != nil {
		h.logger.Warn("ws: connect failed",
			slog.String("consumer", c.id),
			slog.String("error", err.Error()),
		)
		return
	}
	go h.readPump(c)
}

// readPump handles consumer commands until the connection fails, then
// disconnects the consumer.
func (h *Hub) readPump(c *wsConn) {
	defer h.Disconnect(c.id)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws: unexpected close error",
					slog.String("consumer", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg actionMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch strings.ToLower(msg.Action) {
		case "select":
			if err := h.Select(c.id, strings.TrimSpace(msg.Instrument)); err != nil {
				_ = c.Send(Event{Name: EventError, Data: map[string]string{"message": err.Error()}})
			}
		}
	}
}

// writePump writes queued events as text frames and keeps the connection
// alive with pings. It closes the socket once the send queue is closed.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
