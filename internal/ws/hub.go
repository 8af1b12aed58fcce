package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/model"
)

// ─────────────────────────────────────────────
// Hub: manages all connected dashboards
// ─────────────────────────────────────────────

// Hub maintains the set of active WebSocket clients and broadcasts
// committed ledger events to them. It implements ledger.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("session_id", c.SessionID).Int("total", n).Msg("dashboard connected")
}

// Unregister removes a client from the hub and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("session_id", c.SessionID).Int("total", n).Msg("dashboard disconnected")
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts ev to every dashboard subscribed to its client.
// Slow dashboards lose the event rather than stall the ledger.
func (h *Hub) Notify(_ context.Context, ev ledger.Event) {
	data, err := json.Marshal(model.Envelope{
		Type:    model.MsgTypeLedgerEvent,
		Payload: ev,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal ledger event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if !c.wants(ev.ClientID) {
			continue
		}
		select {
		case c.send <- data:
			sent++
		default:
			h.log.Warn().Str("session_id", c.SessionID).Msg("send buffer full, dropping event")
		}
	}
	h.log.Debug().
		Str("type", string(ev.Type)).
		Str("payment_id", ev.PaymentID).
		Int("dashboards", sent).
		Msg("broadcast ledger event")
}
