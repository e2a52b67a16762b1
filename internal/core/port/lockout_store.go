package port

import (
	"context"
	"time"
)

// LockoutStore tracks failed two-factor attempts per user.
// IncrementFailures must be atomic so concurrent failures cannot both
// observe the pre-increment count and skip the lock threshold.
type LockoutStore interface {
	IncrementFailures(ctx context.Context, userID string, ttl time.Duration) (int, error)
	SetLockedUntil(ctx context.Context, userID string, until time.Time) error
	LockedUntil(ctx context.Context, userID string) (*time.Time, error)
	Clear(ctx context.Context, userID string) error
}

// ReplayGuard remembers the last accepted TOTP time step per user so a code
// cannot be replayed inside its validity window.
type ReplayGuard interface {
	LastAcceptedStep(ctx context.Context, userID string) (int64, error)
	RecordAcceptedStep(ctx context.Context, userID string, step int64, ttl time.Duration) error
}
