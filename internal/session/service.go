package session

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
	ErrUnauthenticated = errors.New("session: unauthenticated")
	ErrSessionNotFound = errors.New("session: not found")
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 30 * time.Minute

// Service issues and validates sessions.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for tokens and session ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "session").Logger() }
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured session lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue creates and stores a new session.
func (s *Service) Issue(ctx context.Context) (*Session, error) {
	now := s.now()
	sess := &Session{
		Token:     s.newID(),
		ID:        s.newID(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	metrics.IncSessionIssued()
	s.log.Debug().Str("session_id", sess.ID).Time("expires_at", sess.ExpiresAt).Msg("session issued")
	return sess, nil
}

// Validate checks that token names a live session. Any lookup miss or
// expiry maps to ErrUnauthenticated; storage failures are returned wrapped.
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if sess.Expired(s.now()) {
		return nil, ErrUnauthenticated
	}
	return sess, nil
}

// Sweep deletes expired sessions.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		metrics.AddSessionsSwept(n)
		s.log.Info().Int("removed", n).Msg("expired sessions swept")
	}
	return n, nil
}
