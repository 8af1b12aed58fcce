package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/metrics"
)

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

var (
	ErrNotFound          = errors.New("ledger: not found")
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrPaymentNotFound   = errors.New("ledger: payment not found")
	ErrNoDebt            = errors.New("ledger: no pending debt")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrForbidden         = errors.New("ledger: payment belongs to another client")
	ErrExpired           = errors.New("ledger: cancellation window expired")
	ErrInvalidAmount     = errors.New("ledger: invalid amount")
)

// errNothingToPrune aborts an UpdateAccount that would not change anything.
var errNothingToPrune = errors.New("nothing to prune")

// errAlreadySeeded aborts a seed write for a client that has state.
var errAlreadySeeded = errors.New("account already seeded")

const (
	DefaultCancelWindow     = 5 * time.Minute
	DefaultPaymentRetention = 24 * time.Hour
)

// Service implements the pay/cancel state machine over a Store.
type Service struct {
	store     Store
	window    time.Duration
	retention time.Duration
	now       func() time.Time
	newID     func() string
	notifiers []Notifier
	log       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithCancelWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

func WithPaymentRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithNotifier(ns ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, ns...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "ledger").Logger() }
}

// NewService creates a ledger Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		window:    DefaultCancelWindow,
		retention: DefaultPaymentRetention,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────

// ListDebts concatenates the debt queues of clientIDs in the given order.
// Each id contributes at most once. Unknown ids and empty queues contribute
// nothing; ErrNotFound is returned when the result is empty.
func (s *Service) ListDebts(ctx context.Context, clientIDs []string) ([]Debt, error) {
	var out []Debt
	seen := make(map[string]bool, len(clientIDs))

	for _, id := range clientIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		acc, err := s.store.GetAccount(ctx, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", id, err)
		}
		out = append(out, acc.Debts...)
	}

	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Balance returns the client's balance. A client without a balance record
// yields ErrNotFound; zero is a valid balance.
func (s *Service) Balance(ctx context.Context, clientID string) (int64, error) {
	acc, err := s.store.GetAccount(ctx, clientID)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load account %s: %w", clientID, err)
	}
	if !acc.HasBalance {
		return 0, ErrNotFound
	}
	return acc.Balance, nil
}

// Account returns a snapshot of the client's account or ErrNotFound.
func (s *Service) Account(ctx context.Context, clientID string) (*Account, error) {
	acc, err := s.store.GetAccount(ctx, clientID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", clientID, err)
	}
	return acc, nil
}

// Payment returns the payment with the given id or ErrPaymentNotFound.
func (s *Service) Payment(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.store.FindPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment %s: %w", paymentID, err)
	}
	return p, nil
}

// ─────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────

// Pay settles the client's oldest debt from its balance. Only one debt is
// paid per call. On ErrNoDebt or ErrInsufficientFunds nothing changes.
func (s *Service) Pay(ctx context.Context, clientID string) (*Receipt, error) {
	var (
		receipt Receipt
		payment Payment
	)

	err := s.store.UpdateAccount(ctx, clientID, func(acc *Account) error {
		if len(acc.Debts) == 0 {
			return ErrNoDebt
		}
		debt := acc.Debts[0]
		if acc.Balance < debt.Amount {
			return ErrInsufficientFunds
		}

		payment = Payment{
			ID:       s.newID(),
			ClientID: clientID,
			Amount:   debt.Amount,
			Debt:     debt,
			PaidAt:   s.now(),
		}
		if acc.Payments == nil {
			acc.Payments = make(map[string]Payment)
		}
		acc.Payments[payment.ID] = payment
		acc.Balance -= debt.Amount
		acc.HasBalance = true
		acc.Debts = append([]Debt(nil), acc.Debts[1:]...)

		receipt = Receipt{
			PaymentID: payment.ID,
			Amount:    payment.Amount,
			Debt:      debt,
			Remaining: acc.Balance,
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrNoDebt):
		metrics.IncPayment("no_debt")
		return nil, err
	case errors.Is(err, ErrInsufficientFunds):
		metrics.IncPayment("insufficient_funds")
		s.log.Info().Str("client_id", clientID).Msg("payment rejected: insufficient funds")
		return nil, err
	default:
		metrics.IncPayment("error")
		return nil, fmt.Errorf("pay %s: %w", clientID, err)
	}

	metrics.IncPayment("ok")
	metrics.AddSettled(payment.Amount)
	s.log.Info().
		Str("client_id", clientID).
		Str("payment_id", payment.ID).
		Int64("amount", payment.Amount).
		Int64("remaining", receipt.Remaining).
		Msg("payment created")

	s.emit(ctx, Event{
		Type:      EventPaymentCreated,
		ClientID:  clientID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Debt:      payment.Debt,
		Balance:   receipt.Remaining,
		At:        payment.PaidAt,
	})
	return &receipt, nil
}

// Cancel reverses a payment: the amount is credited back and the paid debt
// returns to the front of the queue. Checks run in order: existence,
// ownership, window. Any failure leaves state unchanged.
func (s *Service) Cancel(ctx context.Context, paymentID, clientID string) error {
	p, err := s.store.FindPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			metrics.IncCancellation("not_found")
			return ErrPaymentNotFound
		}
		metrics.IncCancellation("error")
		return fmt.Errorf("find payment %s: %w", paymentID, err)
	}
	if p.ClientID != clientID {
		metrics.IncCancellation("forbidden")
		s.log.Warn().Str("payment_id", paymentID).Str("client_id", clientID).Msg("cancel rejected: client mismatch")
		return ErrForbidden
	}

	var (
		cancelled Payment
		balance   int64
		at        time.Time
	)
	err = s.store.UpdateAccount(ctx, p.ClientID, func(acc *Account) error {
		cur, ok := acc.Payments[paymentID]
		if !ok {
			// cancelled or pruned concurrently
			return ErrPaymentNotFound
		}
		at = s.now()
		if at.Sub(cur.PaidAt) > s.window {
			return ErrExpired
		}

		acc.Balance += cur.Amount
		acc.HasBalance = true
		acc.Debts = append([]Debt{cur.Debt}, acc.Debts...)
		delete(acc.Payments, paymentID)

		cancelled = cur
		balance = acc.Balance
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrPaymentNotFound):
		metrics.IncCancellation("not_found")
		return err
	case errors.Is(err, ErrExpired):
		metrics.IncCancellation("expired")
		return err
	default:
		metrics.IncCancellation("error")
		return fmt.Errorf("cancel %s: %w", paymentID, err)
	}

	metrics.IncCancellation("ok")
	s.log.Info().
		Str("client_id", clientID).
		Str("payment_id", paymentID).
		Int64("amount", cancelled.Amount).
		Int64("balance", balance).
		Msg("payment cancelled")

	s.emit(ctx, Event{
		Type:      EventPaymentCancelled,
		ClientID:  clientID,
		PaymentID: paymentID,
		Amount:    cancelled.Amount,
		Debt:      cancelled.Debt,
		Balance:   balance,
		At:        at,
	})
	return nil
}

// ─────────────────────────────────────────────
// Administration
// ─────────────────────────────────────────────

// SetBalance creates or replaces the client's balance record.
func (s *Service) SetBalance(ctx context.Context, clientID string, amount int64) (*Account, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	var out *Account
	err := s.store.UpdateAccount(ctx, clientID, func(acc *Account) error {
		acc.Balance = amount
		acc.HasBalance = true
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set balance %s: %w", clientID, err)
	}
	return out, nil
}

// AddDebt appends a debt to the back of the client's queue.
func (s *Service) AddDebt(ctx context.Context, clientID string, debt Debt) (*Account, error) {
	if debt.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var out *Account
	err := s.store.UpdateAccount(ctx, clientID, func(acc *Account) error {
		acc.Debts = append(acc.Debts, debt)
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add debt %s: %w", clientID, err)
	}
	return out, nil
}

// Seed stores each of the given accounts unless the client already has
// ledger state. Existing balances, debts and payments are never touched, so
// seeding on every start is safe on persistent stores.
func (s *Service) Seed(ctx context.Context, accounts []*Account) error {
	created := 0
	for _, seed := range accounts {
		err := s.store.UpdateAccount(ctx, seed.ClientID, func(acc *Account) error {
			if acc.HasBalance || len(acc.Debts) > 0 || len(acc.Payments) > 0 {
				return errAlreadySeeded
			}
			version := acc.Version
			*acc = *seed.Clone()
			acc.ClientID = seed.ClientID
			acc.Version = version
			if acc.Payments == nil {
				acc.Payments = make(map[string]Payment)
			}
			return nil
		})
		if errors.Is(err, errAlreadySeeded) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", seed.ClientID, err)
		}
		created++
	}
	s.log.Info().Int("created", created).Int("skipped", len(accounts)-created).Msg("ledger seeded")
	return nil
}

// PrunePayments deletes payment records older than the retention period.
// Pruned payments can no longer be looked up or cancelled.
func (s *Service) PrunePayments(ctx context.Context) (int, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	total := 0
	for _, id := range clients {
		removed := 0
		err := s.store.UpdateAccount(ctx, id, func(acc *Account) error {
			removed = 0
			for pid, p := range acc.Payments {
				if p.PaidAt.Before(cutoff) {
					delete(acc.Payments, pid)
					removed++
				}
			}
			if removed == 0 {
				return errNothingToPrune
			}
			return nil
		})
		if errors.Is(err, errNothingToPrune) {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", id, err)
		}
		total += removed
	}

	if total > 0 {
		metrics.AddPruned(total)
		s.log.Info().Int("removed", total).Msg("payment records pruned")
	}
	return total, nil
}

func (s *Service) emit(ctx context.Context, ev Event) {
	for _, n := range s.notifiers {
		n.Notify(ctx, ev)
	}
}
