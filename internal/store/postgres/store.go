// Package postgres stores the ledger in PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/session"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store provides SQL persistence via GORM. Audit entries are written
// asynchronously by a background worker.
type Store struct {
	db    *gorm.DB
	log   zerolog.Logger
	logCh chan func() // buffered channel for async writes
	done  chan struct{}

	mu     sync.RWMutex // guards closed and sends on logCh
	closed bool
}

// Open connects to dsn, auto-migrates schemas, and starts the background
// write worker.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&AccountRow{},
		&DebtRow{},
		&PaymentRow{},
		&SessionRow{},
		&LedgerEntry{},
	); err != nil {
		return nil, err
	}

	s := &Store{
		db:    db,
		log:   log.With().Str("component", "store").Str("backend", "postgres").Logger(),
		logCh: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go s.writeWorker()
	return s, nil
}

func (s *Store) writeWorker() {
	defer close(s.done)
	for fn := range s.logCh {
		fn()
	}
}

// Close drains pending audit writes and closes the pool. Events notified
// after Close are dropped.
func (s *Store) Close() error {
	s.stopWriter()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// stopWriter closes the audit queue once and waits for the worker to drain.
func (s *Store) stopWriter() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.logCh)
	}
	s.mu.Unlock()
	<-s.done
}

// ─────────────────────────────────────────────
// ledger.Store
// ─────────────────────────────────────────────

func (s *Store) GetAccount(ctx context.Context, clientID string) (*ledger.Account, error) {
	var acc *ledger.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row AccountRow
		if err := tx.Where("client_id = ?", clientID).First(&row).Error; err != nil {
			return err
		}
		var err error
		acc, err = loadAccount(tx, row)
		return err
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (s *Store) FindPayment(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	var row PaymentRow
	err := s.db.WithContext(ctx).Where("id = ?", paymentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	p := row.toPayment()
	return &p, nil
}

// UpdateAccount locks the account row for the duration of the transaction.
// An unknown client gets a row inserted inside the same transaction, so a
// failing fn leaves no trace.
func (s *Store) UpdateAccount(ctx context.Context, clientID string, fn func(acc *ledger.Account) error) error {
	return s.withTx(ctx, func(tx *gorm.DB) error {
		row, err := lockAccountTx(tx, clientID)
		if err != nil {
			return err
		}
		cur, err := loadAccount(tx, *row)
		if err != nil {
			return err
		}

		work := cur.Clone()
		if err := fn(work); err != nil {
			return err
		}
		work.ClientID = clientID
		work.Version = cur.Version + 1
		return saveAccountTx(tx, cur, work)
	})
}

func (s *Store) PutAccount(ctx context.Context, acc *ledger.Account) error {
	return s.UpdateAccount(ctx, acc.ClientID, func(cur *ledger.Account) error {
		*cur = *acc.Clone()
		return nil
	})
}

func (s *Store) ListClients(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&AccountRow{}).Order("client_id").Pluck("client_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────
// session.Store
// ─────────────────────────────────────────────

func (s *Store) PutSession(ctx context.Context, sess *session.Session) error {
	row := SessionRow{Token: sess.Token, ID: sess.ID, CreatedAt: sess.CreatedAt, ExpiresAt: sess.ExpiresAt}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*session.Session, error) {
	var row SessionRow
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session.Session{Token: row.Token, ID: row.ID, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt}, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&SessionRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ─────────────────────────────────────────────
// Async audit log
// ─────────────────────────────────────────────

// Notify implements ledger.Notifier by queueing a LedgerEntry. When the
// queue is full the entry is dropped and a warning is logged.
func (s *Store) Notify(_ context.Context, ev ledger.Event) {
	entry := LedgerEntry{
		Type:      ev.Type,
		ClientID:  ev.ClientID,
		PaymentID: ev.PaymentID,
		Amount:    ev.Amount,
		Balance:   ev.Balance,
		Period:    ev.Debt.Period,
		CreatedAt: ev.At,
	}
	if ev.Type == ledger.EventPaymentCancelled {
		entry.Amount = -ev.Amount
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn().Str("payment_id", entry.PaymentID).Msg("store closed, entry dropped")
		return
	}

	select {
	case s.logCh <- func() {
		if err := s.db.Create(&entry).Error; err != nil {
			s.log.Error().Err(err).Str("payment_id", entry.PaymentID).Msg("write ledger entry")
		}
	}:
	default:
		s.log.Warn().Str("payment_id", entry.PaymentID).Msg("audit queue full, entry dropped")
	}
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func lockAccountTx(tx *gorm.DB, clientID string) (*AccountRow, error) {
	var row AccountRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("client_id = ?", clientID).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Racing creators meet at the primary key; the loser waits and then locks
	// the winner's row.
	row = AccountRow{ClientID: clientID, UpdatedAt: time.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("client_id = ?", clientID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func loadAccount(tx *gorm.DB, row AccountRow) (*ledger.Account, error) {
	acc := &ledger.Account{
		ClientID:   row.ClientID,
		Balance:    row.Balance,
		HasBalance: row.HasBalance,
		Version:    row.Version,
		Payments:   map[string]ledger.Payment{},
	}

	var debts []DebtRow
	if err := tx.Where("client_id = ?", row.ClientID).Order("position").Find(&debts).Error; err != nil {
		return nil, err
	}
	for _, d := range debts {
		acc.Debts = append(acc.Debts, ledger.Debt{Amount: d.Amount, Period: d.Period})
	}

	var payments []PaymentRow
	if err := tx.Where("client_id = ?", row.ClientID).Find(&payments).Error; err != nil {
		return nil, err
	}
	for _, p := range payments {
		acc.Payments[p.ID] = p.toPayment()
	}
	return acc, nil
}

// saveAccountTx writes next over prev. The debt queue is rewritten whole;
// payments are diffed since rows never change once written.
func saveAccountTx(tx *gorm.DB, prev, next *ledger.Account) error {
	row := AccountRow{
		ClientID:   next.ClientID,
		Balance:    next.Balance,
		HasBalance: next.HasBalance,
		Version:    next.Version,
		UpdatedAt:  time.Now(),
	}
	if err := tx.Save(&row).Error; err != nil {
		return err
	}

	if err := tx.Where("client_id = ?", next.ClientID).Delete(&DebtRow{}).Error; err != nil {
		return err
	}
	if len(next.Debts) > 0 {
		rows := make([]DebtRow, len(next.Debts))
		for i, d := range next.Debts {
			rows[i] = DebtRow{ClientID: next.ClientID, Position: i, Amount: d.Amount, Period: d.Period}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}

	var removed []string
	for id := range prev.Payments {
		if _, kept := next.Payments[id]; !kept {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		if err := tx.Where("id IN ?", removed).Delete(&PaymentRow{}).Error; err != nil {
			return err
		}
	}

	var added []PaymentRow
	for id, p := range next.Payments {
		if _, had := prev.Payments[id]; !had {
			p.ClientID = next.ClientID
			added = append(added, paymentRow(p))
		}
	}
	if len(added) > 0 {
		if err := tx.Create(&added).Error; err != nil {
			return err
		}
	}
	return nil
}
