package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

const defaultSessionTTL = 12 * time.Hour

// SessionRepository stores established sessions in Redis keyed by an opaque
// session identifier.
type SessionRepository struct {
	client    *red.Client
	keyPrefix string
	ttl       time.Duration
}

var _ port.SessionProvider = (*SessionRepository)(nil)

// NewSessionRepository constructs a Redis-backed session provider.
func NewSessionRepository(client *red.Client, keyPrefix string, ttl time.Duration) *SessionRepository {
	if keyPrefix == "" {
		keyPrefix = "magic:session"
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return &SessionRepository{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// EstablishSession creates a fresh session for the user and returns its identifier.
func (r *SessionRepository) EstablishSession(ctx context.Context, userID string) (string, error) {
	sessionID := uuid.NewString()

	if err := r.client.Set(ctx, r.key(sessionID), userID, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return sessionID, nil
}

// CurrentUser resolves the user behind a session identifier. Each successful
// lookup slides the session expiry forward.
func (r *SessionRepository) CurrentUser(ctx context.Context, sessionID string) (string, error) {
	userID, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("lookup session: %w", err)
	}

	if err := r.client.Expire(ctx, r.key(sessionID), r.ttl).Err(); err != nil {
		return userID, nil
	}

	return userID, nil
}

func (r *SessionRepository) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, sessionID)
}
