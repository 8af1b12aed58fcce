package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/model"
)

// AdminHandler handles admin-only endpoints that feed the ledger.
type AdminHandler struct {
	ledger *ledger.Service
	log    zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(l *ledger.Service, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{ledger: l, log: log.With().Str("component", "http").Logger()}
}

// RegisterRoutes registers admin routes on the admin group.
func (h *AdminHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/clientes/:ci", h.GetClient)
	admin.PUT("/clientes/:ci/saldo", h.SetBalance)
	admin.POST("/clientes/:ci/deudas", h.AddDebt)
}

// ─────────────────────────────────────────────
// GET /admin/clientes/:ci
// ─────────────────────────────────────────────

// GetClient returns the client's balance, debt queue and live payment count.
func (h *AdminHandler) GetClient(c *gin.Context) {
	acc, err := h.ledger.Account(c.Request.Context(), c.Param("ci"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cliente no encontrado"})
		return
	}
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, clientResponse(acc))
}

// ─────────────────────────────────────────────
// PUT /admin/clientes/:ci/saldo
// ─────────────────────────────────────────────

// SetBalance creates or replaces the client's balance record.
func (h *AdminHandler) SetBalance(c *gin.Context) {
	var req model.SetBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ci := c.Param("ci")
	acc, err := h.ledger.SetBalance(c.Request.Context(), ci, *req.Saldo)
	if errors.Is(err, ledger.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "el saldo no puede ser negativo"})
		return
	}
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	h.log.Info().Str("client_id", ci).Int64("balance", acc.Balance).Msg("admin set balance")
	c.JSON(http.StatusOK, model.BalanceResponse{CI: ci, Saldo: acc.Balance})
}

// ─────────────────────────────────────────────
// POST /admin/clientes/:ci/deudas
// ─────────────────────────────────────────────

// AddDebt appends a debt to the back of the client's queue.
func (h *AdminHandler) AddDebt(c *gin.Context) {
	var req model.AddDebtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ci := c.Param("ci")
	acc, err := h.ledger.AddDebt(c.Request.Context(), ci, ledger.Debt{Amount: req.Monto, Period: req.Mes})
	if errors.Is(err, ledger.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "el monto debe ser positivo"})
		return
	}
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	h.log.Info().Str("client_id", ci).Int64("amount", req.Monto).Str("period", req.Mes).Msg("admin added debt")
	c.JSON(http.StatusCreated, clientResponse(acc))
}

func clientResponse(acc *ledger.Account) model.ClientResponse {
	resp := model.ClientResponse{
		CI:     acc.ClientID,
		Deudas: acc.Debts,
		Pagos:  len(acc.Payments),
	}
	if resp.Deudas == nil {
		resp.Deudas = []ledger.Debt{}
	}
	if acc.HasBalance {
		saldo := acc.Balance
		resp.Saldo = &saldo
	}
	return resp
}
