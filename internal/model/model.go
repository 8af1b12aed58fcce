package model

import (
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
)

// ─────────────────────────────────────────────
// HTTP Responses
//
// Field names follow the public API, which is
// Spanish-keyed.
// ─────────────────────────────────────────────

// TokenResponse is returned by POST /oauth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ID        string    `json:"id"`
}

// DebtsResponse is returned by GET /deudas.
type DebtsResponse struct {
	Deudas []ledger.Debt `json:"deudas"`
}

// BalanceResponse is returned by GET /saldo and PUT /admin/clientes/:ci/saldo.
type BalanceResponse struct {
	CI    string `json:"ci,omitempty"`
	Saldo int64  `json:"saldo"`
}

// PaymentResponse is returned by POST /pagar.
type PaymentResponse struct {
	PagoID        string `json:"pago_id"`
	Mensaje       string `json:"mensaje"`
	SaldoRestante int64  `json:"saldo_restante"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Mensaje string `json:"mensaje"`
}

// ClientResponse is the admin view of an account.
type ClientResponse struct {
	CI     string        `json:"ci"`
	Saldo  *int64        `json:"saldo"` // null when the client has no balance record
	Deudas []ledger.Debt `json:"deudas"`
	Pagos  int           `json:"pagos"` // live, uncancelled payment records
}

// ─────────────────────────────────────────────
// HTTP Requests
// ─────────────────────────────────────────────

// SetBalanceRequest is the body of PUT /admin/clientes/:ci/saldo.
type SetBalanceRequest struct {
	Saldo *int64 `json:"saldo" binding:"required"`
}

// AddDebtRequest is the body of POST /admin/clientes/:ci/deudas.
type AddDebtRequest struct {
	Monto int64  `json:"monto" binding:"required"`
	Mes   string `json:"mes" binding:"required"`
}

// ─────────────────────────────────────────────
// WebSocket Protocol Messages
// ─────────────────────────────────────────────

type MsgType string

const (
	// Server → Dashboard
	MsgTypeLedgerEvent MsgType = "LEDGER_EVENT"
	MsgTypeSubscribed  MsgType = "SUBSCRIBED"

	// Dashboard → Server
	MsgTypeSubscribe MsgType = "SUBSCRIBE"
)

// Envelope is the top-level WebSocket frame.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// SubscribeRequest narrows a dashboard's feed to the given clients.
// An empty list means every client.
type SubscribeRequest struct {
	ClientIDs []string `json:"client_ids"`
}
