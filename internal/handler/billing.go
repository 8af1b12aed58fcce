package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/model"
	"github.com/taskmgr818/billpay/internal/params"
)

// Client-facing messages.
const (
	msgBadFormat         = "Formato de parámetros de URL inválido o no proporcionado."
	msgNoDebtsFound      = "No se encontraron deudas para los identificadores proporcionados."
	msgNoBalance         = "Saldo no disponible para este usuario."
	msgPayCIRequired     = "El identificador del cliente (ci) es requerido para el pago."
	msgNoPendingDebt     = "No tienes deudas pendientes."
	msgInsufficientFunds = "Saldo insuficiente para cubrir la deuda."
	msgPaid              = "Pago realizado con éxito."
	msgPaymentNotFound   = "ID de pago no encontrado."
	msgCancelCIRequired  = "El identificador del cliente (ci) es requerido para cancelar el pago."
	msgNotOwner          = "El pago no corresponde al identificador de cliente proporcionado."
	msgWindowExpired     = "El tiempo límite de 5 minutos para cancelar el pago ha expirado."
	msgCancelled         = "Pago cancelado exitosamente."
	msgInternal          = "error interno"
)

// BillingHandler serves the debt, balance, payment and cancellation
// endpoints. Clients are identified through the codigo query parameter.
type BillingHandler struct {
	ledger        *ledger.Service
	defaultClient string
	log           zerolog.Logger
}

// NewBillingHandler creates a BillingHandler. defaultClient is the client
// reported by /saldo when codigo names none.
func NewBillingHandler(l *ledger.Service, defaultClient string, log zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		ledger:        l,
		defaultClient: defaultClient,
		log:           log.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes registers the billing endpoints. Callers attach the
// session middleware to r.
func (h *BillingHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/deudas", h.Debts)
	r.GET("/saldo", h.Balance)
	r.POST("/pagar", h.Pay)
	r.DELETE("/cancelar/:pago_id", h.Cancel)
}

// ─────────────────────────────────────────────
// GET /deudas?codigo=k@v$k@v
// ─────────────────────────────────────────────

// Debts lists the debts of every client named in codigo. Keys are
// ignored; every value is taken as a client id.
func (h *BillingHandler) Debts(c *gin.Context) {
	p, err := params.Parse(c.Query("codigo"))
	if err != nil || p.Len() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadFormat})
		return
	}

	debts, err := h.ledger.ListDebts(c.Request.Context(), p.Values())
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, model.MessageResponse{Mensaje: msgNoDebtsFound})
		return
	}
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, model.DebtsResponse{Deudas: debts})
}

// ─────────────────────────────────────────────
// GET /saldo[?codigo=ci@X]
// ─────────────────────────────────────────────

// Balance reports the balance of the client named by ci, or of the
// default client when codigo is absent, malformed or has no ci.
func (h *BillingHandler) Balance(c *gin.Context) {
	ci, ok := clientFromCodigo(c)
	if !ok {
		ci = h.defaultClient
	}

	saldo, err := h.ledger.Balance(c.Request.Context(), ci)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNoBalance})
		return
	}
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, model.BalanceResponse{Saldo: saldo})
}

// ─────────────────────────────────────────────
// POST /pagar?codigo=ci@X
// ─────────────────────────────────────────────

// Pay settles the oldest debt of the client named by ci.
func (h *BillingHandler) Pay(c *gin.Context) {
	ci, ok := clientFromCodigo(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgPayCIRequired})
		return
	}

	receipt, err := h.ledger.Pay(c.Request.Context(), ci)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNoDebt):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoPendingDebt})
		return
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInsufficientFunds})
		return
	default:
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, model.PaymentResponse{
		PagoID:        receipt.PaymentID,
		Mensaje:       msgPaid,
		SaldoRestante: receipt.Remaining,
	})
}

// ─────────────────────────────────────────────
// DELETE /cancelar/:pago_id?codigo=ci@X
// ─────────────────────────────────────────────

// Cancel reverses a payment. An unknown payment id is reported before a
// missing ci.
func (h *BillingHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	paymentID := c.Param("pago_id")

	if _, err := h.ledger.Payment(ctx, paymentID); err != nil {
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": msgPaymentNotFound})
			return
		}
		internalError(c, h.log, err)
		return
	}

	ci, ok := clientFromCodigo(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgCancelCIRequired})
		return
	}

	err := h.ledger.Cancel(ctx, paymentID, ci)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrPaymentNotFound):
		// cancelled or pruned since the lookup above
		c.JSON(http.StatusNotFound, gin.H{"error": msgPaymentNotFound})
		return
	case errors.Is(err, ledger.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": msgNotOwner})
		return
	case errors.Is(err, ledger.ErrExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgWindowExpired})
		return
	default:
		internalError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, model.MessageResponse{Mensaje: msgCancelled})
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

// clientFromCodigo returns the ci entry of codigo. A malformed codigo
// counts as missing.
func clientFromCodigo(c *gin.Context) (string, bool) {
	p, err := params.Parse(c.Query("codigo"))
	if err != nil {
		return "", false
	}
	return p.Get("ci")
}

func internalError(c *gin.Context, log zerolog.Logger, err error) {
	log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}
