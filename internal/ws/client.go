package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/taskmgr818/billpay/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 << 10

	// Send buffer size
	sendBufSize = 256
)

// Client represents a single dashboard WebSocket connection.
type Client struct {
	SessionID string
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte

	mu     sync.RWMutex
	filter map[string]bool // nil = all clients
}

// NewClient wraps a WebSocket connection.
func NewClient(sessionID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		SessionID: sessionID,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, sendBufSize),
	}
}

// Run starts read and write pumps. Blocks until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump(ctx) // blocks
	c.hub.Unregister(c)
	<-done
}

func (c *Client) wants(clientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == nil || c.filter[clientID]
}

// ─────────────────────────────────────────────
// Read pump: Dashboard → Server
// ─────────────────────────────────────────────

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn().Err(err).Str("session_id", c.SessionID).Msg("read error")
			}
			return
		}
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(_ context.Context, raw []byte) {
	var env struct {
		Type    model.MsgType   `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.hub.log.Warn().Err(err).Str("session_id", c.SessionID).Msg("invalid message")
		return
	}

	switch env.Type {
	case model.MsgTypeSubscribe:
		var req model.SubscribeRequest
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				c.hub.log.Warn().Err(err).Str("session_id", c.SessionID).Msg("bad SUBSCRIBE payload")
				return
			}
		}
		c.subscribe(req.ClientIDs)
		c.reply(model.Envelope{Type: model.MsgTypeSubscribed, Payload: req})

	default:
		c.hub.log.Warn().Str("session_id", c.SessionID).Str("type", string(env.Type)).Msg("unknown message type")
	}
}

func (c *Client) subscribe(ids []string) {
	var filter map[string]bool
	if len(ids) > 0 {
		filter = make(map[string]bool, len(ids))
		for _, id := range ids {
			filter[id] = true
		}
	}
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
}

// reply is only called from the read pump, before Unregister closes send.
func (c *Client) reply(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn().Str("session_id", c.SessionID).Msg("send buffer full")
	}
}

// ─────────────────────────────────────────────
// Write pump: Server → Dashboard
// ─────────────────────────────────────────────

func (c *Client) writePump() {
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
				// Hub closed the channel
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
