package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login record keyed by an unguessable token.
// The key-value backend is its only source of truth.
type Session struct {
	Token     string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TTL returns the lifetime the session was issued with.
func (s *Session) TTL() time.Duration {
	return s.ExpiresAt.Sub(s.CreatedAt)
}

// Identity is the authenticated principal attached to a request after its
// bearer token resolved. It is never persisted.
type Identity struct {
	UserID uuid.UUID
	// Token is the session token the request authenticated with.
	Token string
}

// TokenPrefix returns the loggable head of a token. Full tokens never reach the logs.
func TokenPrefix(token string) string {
	const visible = 8
	if len(token) <= visible {
		return ""
	}

	return token[:visible]
}
