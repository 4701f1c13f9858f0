package service

import (
	"context"
	"errors"
	"time"

	"orpheus/internal/domain/entity"

	"github.com/google/uuid"
)

// ErrSessionStoreUnavailable is wrapped around every backend failure of a SessionStore.
var ErrSessionStoreUnavailable = errors.New("session store unavailable")

// SessionStore keeps opaque session tokens mapped to user IDs with a fixed TTL.
type SessionStore interface {
	// Create issues a fresh token bound to userID.
	Create(ctx context.Context, userID uuid.UUID) (*entity.Session, error)

	// Resolve returns the user bound to token.
	// A missing, expired or corrupt entry yields ok == false with a nil error.
	Resolve(ctx context.Context, token string) (userID uuid.UUID, ok bool, err error)

	// Destroy removes the token. Destroying an absent token is not an error.
	Destroy(ctx context.Context, token string) error

	// Refresh resets the expiry of a live token to the full TTL.
	Refresh(ctx context.Context, token string) error

	// TTL reports the lifetime given to new tokens.
	TTL() time.Duration
}
