// Package memory is the in-process backend for the ledger and session stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/session"
)

// Store keeps accounts and sessions in maps. Account updates hold a
// per-client mutex across the read-modify-write; mu only guards the maps.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*ledger.Account
	payments map[string]string // payment id → client id
	locks    map[string]*sync.Mutex

	sessions map[string]*session.Session
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*ledger.Account),
		payments: make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*session.Session),
	}
}

// ─────────────────────────────────────────────
// ledger.Store
// ─────────────────────────────────────────────

func (s *Store) GetAccount(_ context.Context, clientID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[clientID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *Store) FindPayment(_ context.Context, paymentID string) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientID, ok := s.payments[paymentID]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	acc, ok := s.accounts[clientID]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	p, ok := acc.Payments[paymentID]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	return &p, nil
}

func (s *Store) UpdateAccount(ctx context.Context, clientID string, fn func(acc *ledger.Account) error) error {
	lock := s.clientLock(clientID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	cur, exists := s.accounts[clientID]
	var work *ledger.Account
	if exists {
		work = cur.Clone()
	} else {
		work = &ledger.Account{ClientID: clientID, Payments: map[string]ledger.Payment{}}
	}
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	work.ClientID = clientID
	work.Version++

	s.mu.Lock()
	defer s.mu.Unlock()
	if exists {
		for id := range cur.Payments {
			if _, kept := work.Payments[id]; !kept {
				delete(s.payments, id)
			}
		}
	}
	for id := range work.Payments {
		s.payments[id] = clientID
	}
	s.accounts[clientID] = work
	return nil
}

func (s *Store) PutAccount(_ context.Context, acc *ledger.Account) error {
	lock := s.clientLock(acc.ClientID)
	lock.Lock()
	defer lock.Unlock()

	cp := acc.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.accounts[acc.ClientID]; ok {
		for id := range old.Payments {
			delete(s.payments, id)
		}
		cp.Version = old.Version + 1
	}
	for id := range cp.Payments {
		s.payments[id] = cp.ClientID
	}
	s.accounts[cp.ClientID] = cp
	return nil
}

func (s *Store) ListClients(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) clientLock(clientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[clientID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[clientID] = l
	}
	return l
}

// ─────────────────────────────────────────────
// session.Store
// ─────────────────────────────────────────────

func (s *Store) PutSession(_ context.Context, sess *session.Session) error {
	cp := *sess

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
