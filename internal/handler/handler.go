package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	appctx "github.com/taskmgr818/billpay/internal/context"
	"github.com/taskmgr818/billpay/internal/metrics"
	"github.com/taskmgr818/billpay/internal/ws"
)

// Handler holds the operational endpoints: health, metrics and the
// dashboard event feed.
type Handler struct {
	hub      *ws.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(hub *ws.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		log: log.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all routes on the Gin engine. sessionAuth
// protects the event feed.
func (h *Handler) RegisterRoutes(r *gin.Engine, sessionAuth gin.HandlerFunc) {
	// ── Public endpoints (no auth) ──
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Dashboard WebSocket ──
	r.GET("/eventos", sessionAuth, h.Events)
}

// ─────────────────────────────────────────────
// GET /eventos  (Dashboard WebSocket)
// ─────────────────────────────────────────────

// Events upgrades the connection and streams ledger events until the
// dashboard disconnects.
func (h *Handler) Events(c *gin.Context) {
	sessionID := appctx.GetSessionID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	client := ws.NewClient(sessionID, conn, h.hub)
	client.Run(c.Request.Context())
}

// ─────────────────────────────────────────────
// GET /health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"connected_dashboards": h.hub.ClientCount(),
	})
}
