package ledger

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────
// Bill-payment ledger
//
// Each client owns a balance, an oldest-first debt
// queue and the payments made against it. The three
// form one consistency unit (Account) and are always
// read and written together.
// ─────────────────────────────────────────────

// Debt is one entry of a client's debt queue.
type Debt struct {
	Amount int64  `json:"monto"`
	Period string `json:"mes"`
}

// Payment records the settlement of a single debt. It is reversible
// within the cancellation window.
type Payment struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	Amount   int64     `json:"amount"`
	Debt     Debt      `json:"debt"`
	PaidAt   time.Time `json:"paid_at"`
}

// Account is the per-client aggregate.
type Account struct {
	ClientID   string             `json:"client_id"`
	Balance    int64              `json:"balance"`
	HasBalance bool               `json:"has_balance"` // false = no balance record, distinct from zero
	Debts      []Debt             `json:"debts"`
	Payments   map[string]Payment `json:"payments"`
	Version    int64              `json:"version"` // bumped by stores on every write
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Debts = append([]Debt(nil), a.Debts...)
	cp.Payments = make(map[string]Payment, len(a.Payments))
	for id, p := range a.Payments {
		cp.Payments[id] = p
	}
	return &cp
}

// ─────────────────────────────────────────────
// Store is the storage abstraction the ledger runs
// on. Backends live under internal/store.
// ─────────────────────────────────────────────

type Store interface {
	// GetAccount returns a copy of the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, clientID string) (*Account, error)

	// FindPayment looks a payment up by id across all clients.
	// Returns ErrPaymentNotFound when no such payment exists.
	FindPayment(ctx context.Context, paymentID string) (*Payment, error)

	// UpdateAccount runs fn against a private copy of the account and, if fn
	// returns nil, replaces the stored account with it atomically, keeping
	// the payment index in sync. Unknown clients are passed a zero Account
	// with ClientID set. Updates for the same client never interleave.
	// fn may run more than once and must only touch acc.
	UpdateAccount(ctx context.Context, clientID string, fn func(acc *Account) error) error

	// PutAccount overwrites an account unconditionally.
	PutAccount(ctx context.Context, acc *Account) error

	// ListClients returns every stored client id.
	ListClients(ctx context.Context) ([]string, error)
}

// ─────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────

type EventType string

const (
	EventPaymentCreated   EventType = "PAYMENT_CREATED"
	EventPaymentCancelled EventType = "PAYMENT_CANCELLED"
)

// Event is emitted after a pay or cancel commits.
type Event struct {
	Type      EventType `json:"type"`
	ClientID  string    `json:"client_id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Debt      Debt      `json:"debt"`
	Balance   int64     `json:"balance"`
	At        time.Time `json:"at"`
}

// Notifier receives committed ledger events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Receipt is returned by a successful Pay.
type Receipt struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Debt      Debt   `json:"debt"`
	Remaining int64  `json:"remaining"`
}
