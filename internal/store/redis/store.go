// Package redis stores accounts and sessions in Redis.
//
// Each account is one JSON document carrying a version. Writers read the
// document, apply their change locally and commit with LuaCommitAccount,
// which rejects the write if the version moved in between.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/session"
)

// maxCommitRetries bounds the optimistic retry loop of UpdateAccount.
const maxCommitRetries = 10

// ErrConflict is returned when an account kept changing under UpdateAccount.
var ErrConflict = errors.New("redis store: too many concurrent updates")

// Store implements ledger.Store and session.Store.
type Store struct {
	rdb    *goredis.Client
	prefix string
	log    zerolog.Logger

	commitScript *goredis.Script
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key the store touches.
func WithKeyPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("component", "store").Str("backend", "redis").Logger() }
}

// New wraps an established client.
func New(rdb *goredis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:          rdb,
		prefix:       "billpay:",
		log:          zerolog.Nop(),
		commitScript: goredis.NewScript(LuaCommitAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─────────────────────────────────────────────
// ledger.Store
// ─────────────────────────────────────────────

func (s *Store) GetAccount(ctx context.Context, clientID string) (*ledger.Account, error) {
	raw, err := s.rdb.Get(ctx, s.accountKey(clientID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return decodeAccount(raw)
}

func (s *Store) FindPayment(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	clientID, err := s.rdb.Get(ctx, s.paymentKey(paymentID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment index: %w", err)
	}

	acc, err := s.GetAccount(ctx, clientID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	p, ok := acc.Payments[paymentID]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	return &p, nil
}

// UpdateAccount may invoke fn more than once when it loses a race with
// another writer; fn must not have side effects outside acc.
func (s *Store) UpdateAccount(ctx context.Context, clientID string, fn func(acc *ledger.Account) error) error {
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		cur, err := s.GetAccount(ctx, clientID)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			cur = &ledger.Account{ClientID: clientID, Payments: map[string]ledger.Payment{}}
		} else if err != nil {
			return err
		}

		work := cur.Clone()
		if err := fn(work); err != nil {
			return err
		}
		work.ClientID = clientID
		work.Version = cur.Version + 1

		ok, err := s.commit(ctx, cur, work)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		s.log.Debug().Str("client_id", clientID).Int("attempt", attempt+1).Msg("account commit conflict")
	}
	return ErrConflict
}

func (s *Store) PutAccount(ctx context.Context, acc *ledger.Account) error {
	return s.UpdateAccount(ctx, acc.ClientID, func(cur *ledger.Account) error {
		*cur = *acc.Clone()
		return nil
	})
}

func (s *Store) ListClients(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return ids, nil
}

// commit writes next if the stored version still equals prev.Version.
func (s *Store) commit(ctx context.Context, prev, next *ledger.Account) (bool, error) {
	doc, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal account: %w", err)
	}

	var removed, live []interface{}
	for id := range prev.Payments {
		if _, kept := next.Payments[id]; !kept {
			removed = append(removed, id)
		}
	}
	for id := range next.Payments {
		live = append(live, id)
	}

	keys := []string{s.accountKey(next.ClientID), s.accountsKey()}
	args := []interface{}{s.prefix, next.ClientID, prev.Version, string(doc), len(removed)}
	args = append(args, removed...)
	args = append(args, live...)

	status, err := s.commitScript.Run(ctx, s.rdb, keys, args...).Text()
	if err != nil {
		return false, fmt.Errorf("commit account lua: %w", err)
	}
	switch status {
	case "OK":
		return true, nil
	case "CONFLICT":
		return false, nil
	default:
		return false, fmt.Errorf("commit account: unexpected status %s", status)
	}
}

func decodeAccount(raw []byte) (*ledger.Account, error) {
	var acc ledger.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acc.Payments == nil {
		acc.Payments = map[string]ledger.Payment{}
	}
	return &acc, nil
}

// ─────────────────────────────────────────────
// session.Store
// ─────────────────────────────────────────────

// PutSession stores the session with a key expiry at ExpiresAt, so Redis
// evicts it even if no sweep runs.
func (s *Store) PutSession(ctx context.Context, sess *session.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SetArgs(ctx, s.sessionKey(sess.Token), doc, goredis.SetArgs{ExpireAt: sess.ExpiresAt})
		pipe.ZAdd(ctx, s.sessionExpiryKey(), goredis.Z{
			Score:  float64(sess.ExpiresAt.UnixMilli()),
			Member: sess.Token,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*session.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(token)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tokens, err := s.rdb.ZRangeByScore(ctx, s.sessionExpiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(tokens))
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		members[i] = t
		keys[i] = s.sessionKey(t)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.sessionExpiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return len(tokens), nil
}
