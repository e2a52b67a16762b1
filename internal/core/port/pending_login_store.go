package port

import (
	"context"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// PendingLoginStore keeps short-lived pending-login correlation state.
// Entries expire by TTL; a read after expiry is equivalent to absence.
type PendingLoginStore interface {
	Store(ctx context.Context, pending domain.PendingLogin, ttl time.Duration) error
	Fetch(ctx context.Context, reference string) (*domain.PendingLogin, error)
	Delete(ctx context.Context, reference string) error
	DeleteForUser(ctx context.Context, userID string) error
}
