package port

import (
	"context"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// LoginTokenRepository manages persisted magic-link token records.
type LoginTokenRepository interface {
	Create(ctx context.Context, token domain.LoginToken) error
	GetByHash(ctx context.Context, hash string) (*domain.LoginToken, error)
	// Consume marks the token used if and only if it is still unused.
	// Implementations must perform a single conditional update so that
	// concurrent consumers of the same token succeed at most once; the
	// loser receives repository.ErrNotFound.
	Consume(ctx context.Context, id string, usedAt time.Time) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	RevokeActiveForUser(ctx context.Context, userID string, revokedAt time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	DeleteForUser(ctx context.Context, userID string) (int, error)
}
