// Package session implements the session store on top of Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"orpheus/config"
	"orpheus/internal/domain/entity"
	"orpheus/internal/domain/service"
	"orpheus/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// tokenBytes is the entropy of a session token (256 bits).
const tokenBytes = 32

// Params defines the required parameters
type Params struct {
	fx.In

	Client *redis.Client
	Config *config.Config
	Logger *slog.Logger
}

type redisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a SessionStore backed by Redis keys with native expiry.
func NewRedisStore(params Params) service.SessionStore {
	return newRedisStore(params.Client, params.Config.Session, params.Logger)
}

func newRedisStore(client redis.UniversalClient, cfg *config.SessionConfig, logger *slog.Logger) *redisStore {
	return &redisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger,
		now:    time.Now,
	}
}

func (s *redisStore) Create(ctx context.Context, userID uuid.UUID) (*entity.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate session token")
	}

	createdAt := s.now()
	if err := s.client.Set(ctx, s.key(token), userID.String(), s.ttl).Err(); err != nil {
		return nil, unavailable(err, "set session")
	}

	return &entity.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(s.ttl),
	}, nil
}

func (s *redisStore) Resolve(ctx context.Context, token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}

	value, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, unavailable(err, "get session")
	}

	userID, err := uuid.Parse(value)
	if err != nil {
		s.logger.WarnContext(ctx, "Discarding corrupt session entry",
			slog.String("token_prefix", entity.TokenPrefix(token)),
			slog.Any("error", err),
		)

		return uuid.Nil, false, nil
	}

	return userID, true, nil
}

func (s *redisStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return unavailable(err, "delete session")
	}

	return nil
}

func (s *redisStore) Refresh(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	// EXPIRE on a missing key is a no-op, so an expired session stays expired.
	if err := s.client.Expire(ctx, s.key(token), s.ttl).Err(); err != nil {
		return unavailable(err, "refresh session")
	}

	return nil
}

func (s *redisStore) TTL() time.Duration {
	return s.ttl
}

func (s *redisStore) key(token string) string {
	return s.prefix + token
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func unavailable(err error, op string) error {
	return errors.Wrap(errors.Join(service.ErrSessionStoreUnavailable, err), op)
}
