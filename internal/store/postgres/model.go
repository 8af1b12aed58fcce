package postgres

import (
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
)

// ─────────────────────────────────────────────
// Table models
// ─────────────────────────────────────────────

// AccountRow holds the scalar part of a ledger.Account.
type AccountRow struct {
	ClientID   string `gorm:"primaryKey"`
	Balance    int64
	HasBalance bool
	Version    int64
	UpdatedAt  time.Time
}

func (AccountRow) TableName() string { return "accounts" }

// DebtRow is one queue entry; Position orders the queue oldest-first.
type DebtRow struct {
	ID       uint   `gorm:"primaryKey"`
	ClientID string `gorm:"index:idx_debts_client_position,priority:1"`
	Position int    `gorm:"index:idx_debts_client_position,priority:2"`
	Amount   int64
	Period   string
}

func (DebtRow) TableName() string { return "debts" }

// PaymentRow is an uncancelled payment. Rows are immutable once written.
type PaymentRow struct {
	ID         string `gorm:"primaryKey"`
	ClientID   string `gorm:"index"`
	Amount     int64
	DebtAmount int64
	DebtPeriod string
	PaidAt     time.Time
}

func (PaymentRow) TableName() string { return "payments" }

func (p PaymentRow) toPayment() ledger.Payment {
	return ledger.Payment{
		ID:       p.ID,
		ClientID: p.ClientID,
		Amount:   p.Amount,
		Debt:     ledger.Debt{Amount: p.DebtAmount, Period: p.DebtPeriod},
		PaidAt:   p.PaidAt,
	}
}

func paymentRow(p ledger.Payment) PaymentRow {
	return PaymentRow{
		ID:         p.ID,
		ClientID:   p.ClientID,
		Amount:     p.Amount,
		DebtAmount: p.Debt.Amount,
		DebtPeriod: p.Debt.Period,
		PaidAt:     p.PaidAt,
	}
}

// SessionRow persists a bearer session.
type SessionRow struct {
	Token     string `gorm:"primaryKey"`
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (SessionRow) TableName() string { return "sessions" }

// LedgerEntry is an immutable audit record of a committed pay or cancel.
type LedgerEntry struct {
	ID        uint             `gorm:"primaryKey"`
	Type      ledger.EventType `gorm:"index"`
	ClientID  string           `gorm:"index"`
	PaymentID string           `gorm:"index"`
	Amount    int64            // positive = debit from balance, negative = credit back
	Balance   int64            // balance after the operation
	Period    string
	CreatedAt time.Time
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
