package redis

// ─────────────────────────────────────────────
// Redis Key Helpers
// ─────────────────────────────────────────────

func (s *Store) accountKey(clientID string) string { return s.prefix + "account:" + clientID }

func (s *Store) accountsKey() string { return s.prefix + "accounts" }

func (s *Store) paymentKey(paymentID string) string { return s.prefix + "payment:" + paymentID }

func (s *Store) sessionKey(token string) string { return s.prefix + "session:" + token }

// sessionExpiryKey is a sorted set of tokens scored by expiry (unix ms).
func (s *Store) sessionExpiryKey() string { return s.prefix + "sessions:expiry" }
