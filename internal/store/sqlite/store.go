// Package sqlite stores the ledger in a single SQLite file.
//
// The pool is capped at one connection, so transactions never overlap and
// each UpdateAccount runs alone.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/session"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	conn *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates the database file if needed and initializes the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		client_id   TEXT PRIMARY KEY,
		balance     INTEGER NOT NULL,
		has_balance INTEGER NOT NULL,
		version     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debts (
		client_id TEXT NOT NULL,
		position  INTEGER NOT NULL,
		amount    INTEGER NOT NULL,
		period    TEXT NOT NULL,
		PRIMARY KEY (client_id, position)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id          TEXT PRIMARY KEY,
		client_id   TEXT NOT NULL,
		amount      INTEGER NOT NULL,
		debt_amount INTEGER NOT NULL,
		debt_period TEXT NOT NULL,
		paid_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_client ON payments(client_id);

	CREATE TABLE IF NOT EXISTS sessions (
		token      TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// ─────────────────────────────────────────────
// ledger.Store
// ─────────────────────────────────────────────

func (s *Store) GetAccount(ctx context.Context, clientID string) (*ledger.Account, error) {
	acc, err := loadAccount(ctx, s.conn, clientID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Store) FindPayment(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	var (
		p      ledger.Payment
		paidAt int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, client_id, amount, debt_amount, debt_period, paid_at
		FROM payments WHERE id = ?
	`, paymentID).Scan(&p.ID, &p.ClientID, &p.Amount, &p.Debt.Amount, &p.Debt.Period, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	p.PaidAt = time.Unix(0, paidAt).UTC()
	return &p, nil
}

func (s *Store) UpdateAccount(ctx context.Context, clientID string, fn func(acc *ledger.Account) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := loadAccount(ctx, tx, clientID)
	if err != nil {
		return err
	}
	if cur == nil {
		cur = &ledger.Account{ClientID: clientID, Payments: map[string]ledger.Payment{}}
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.ClientID = clientID
	work.Version = cur.Version + 1

	if err := saveAccount(ctx, tx, cur, work); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) PutAccount(ctx context.Context, acc *ledger.Account) error {
	return s.UpdateAccount(ctx, acc.ClientID, func(cur *ledger.Account) error {
		*cur = *acc.Clone()
		return nil
	})
}

func (s *Store) ListClients(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT client_id FROM accounts ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadAccount returns nil, nil when the client has no account row.
func loadAccount(ctx context.Context, q querier, clientID string) (*ledger.Account, error) {
	acc := &ledger.Account{ClientID: clientID, Payments: map[string]ledger.Payment{}}
	err := q.QueryRowContext(ctx, `
		SELECT balance, has_balance, version FROM accounts WHERE client_id = ?
	`, clientID).Scan(&acc.Balance, &acc.HasBalance, &acc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT amount, period FROM debts WHERE client_id = ? ORDER BY position
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load debts: %w", err)
	}
	for rows.Next() {
		var d ledger.Debt
		if err := rows.Scan(&d.Amount, &d.Period); err != nil {
			rows.Close()
			return nil, err
		}
		acc.Debts = append(acc.Debts, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT id, amount, debt_amount, debt_period, paid_at FROM payments WHERE client_id = ?
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := ledger.Payment{ClientID: clientID}
		var paidAt int64
		if err := rows.Scan(&p.ID, &p.Amount, &p.Debt.Amount, &p.Debt.Period, &paidAt); err != nil {
			return nil, err
		}
		p.PaidAt = time.Unix(0, paidAt).UTC()
		acc.Payments[p.ID] = p
	}
	return acc, rows.Err()
}

func saveAccount(ctx context.Context, q querier, prev, next *ledger.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (client_id, balance, has_balance, version) VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			balance = excluded.balance,
			has_balance = excluded.has_balance,
			version = excluded.version
	`, next.ClientID, next.Balance, next.HasBalance, next.Version)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM debts WHERE client_id = ?`, next.ClientID); err != nil {
		return fmt.Errorf("clear debts: %w", err)
	}
	for i, d := range next.Debts {
		_, err := q.ExecContext(ctx, `
			INSERT INTO debts (client_id, position, amount, period) VALUES (?, ?, ?, ?)
		`, next.ClientID, i, d.Amount, d.Period)
		if err != nil {
			return fmt.Errorf("insert debt: %w", err)
		}
	}

	for id := range prev.Payments {
		if _, kept := next.Payments[id]; kept {
			continue
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
	}
	for id, p := range next.Payments {
		if _, had := prev.Payments[id]; had {
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO payments (id, client_id, amount, debt_amount, debt_period, paid_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, next.ClientID, p.Amount, p.Debt.Amount, p.Debt.Period, p.PaidAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────
// session.Store
// ─────────────────────────────────────────────

func (s *Store) PutSession(ctx context.Context, sess *session.Session) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (token, id, created_at, expires_at) VALUES (?, ?, ?, ?)
	`, sess.Token, sess.ID, sess.CreatedAt.UnixNano(), sess.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*session.Session, error) {
	var (
		sess               session.Session
		created, expiresAt int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT token, id, created_at, expires_at FROM sessions WHERE token = ?
	`, token).Scan(&sess.Token, &sess.ID, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &sess, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
