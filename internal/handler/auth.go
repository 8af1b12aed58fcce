package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/model"
	"github.com/taskmgr818/billpay/internal/session"
)

// AuthHandler issues bearer tokens.
type AuthHandler struct {
	sessions *session.Service
	log      zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *session.Service, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, log: log.With().Str("component", "http").Logger()}
}

// RegisterRoutes registers the token endpoint. No authentication is
// required to obtain a token.
func (h *AuthHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/oauth/token", h.Token)
}

// ─────────────────────────────────────────────
// POST /oauth/token
// ─────────────────────────────────────────────

// Token issues a new session valid for the configured TTL.
func (h *AuthHandler) Token(c *gin.Context) {
	sess, err := h.sessions.Issue(c.Request.Context())
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, model.TokenResponse{
		Token:     sess.Token,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
		ID:        sess.ID,
	})
}
