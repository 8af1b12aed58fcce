package session

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────
// Session is an issued bearer credential.
//
// It carries no client identity: the id is an
// opaque per-session identifier only.
// ─────────────────────────────────────────────

type Session struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
// A session is valid strictly before ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ─────────────────────────────────────────────
// Store persists sessions. Implemented by every
// backend under internal/store.
// ─────────────────────────────────────────────

type Store interface {
	// PutSession stores a new session.
	PutSession(ctx context.Context, s *Session) error

	// GetSession returns the session for token or ErrSessionNotFound.
	GetSession(ctx context.Context, token string) (*Session, error)

	// DeleteExpiredSessions removes sessions that expired at or before now
	// and returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}
