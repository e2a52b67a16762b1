package port

import (
	"context"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// UserRepository exposes the account lookups the login flow needs.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
