package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
)

const (
	defaultMaxAttempts     = 5
	defaultLockoutDuration = 15 * time.Minute

	// failureCounterTTL bounds how long a stale failure counter survives when
	// the user never reaches the lock threshold.
	failureCounterTTL = 24 * time.Hour
)

// TwoFactorLockedError reports an active lockout with the time remaining.
type TwoFactorLockedError struct {
	RetryAfter time.Duration
}

func (e *TwoFactorLockedError) Error() string {
	return fmt.Sprintf("two-factor verification locked, retry in %s", e.RetryAfter.Round(time.Second))
}

// LockoutGuard enforces the failed-attempt policy for two-factor codes.
// Counting is delegated to an atomic store increment so concurrent failures
// observe distinct counts and exactly one crosses the threshold.
type LockoutGuard struct {
	store        port.LockoutStore
	maxAttempts  int
	lockDuration time.Duration
	logger       *zap.Logger
	now          func() time.Time
	onLockout    func()
}

// NewLockoutGuard constructs a LockoutGuard with the supplied policy.
func NewLockoutGuard(store port.LockoutStore, maxAttempts int, lockDuration time.Duration, log *zap.Logger) *LockoutGuard {
	if log == nil {
		log = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockoutDuration
	}

	return &LockoutGuard{
		store:        store,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		logger:       log,
		now:          time.Now,
	}
}

// WithClock allows tests to override the clock used by the guard.
func (g *LockoutGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// OnLockout registers a callback fired when an account crosses the threshold.
func (g *LockoutGuard) OnLockout(fn func()) {
	g.onLockout = fn
}

// RecordFailure bumps the failure counter and, at the attempt limit, sets the
// lockout deadline. The returned state reflects the post-increment view.
func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) (*domain.LockoutState, error) {
	count, err := g.store.IncrementFailures(ctx, userID, failureCounterTTL)
	if err != nil {
		return nil, fmt.Errorf("record two-factor failure: %w", err)
	}

	state := &domain.LockoutState{
		UserID:         userID,
		FailedAttempts: count,
	}

	if count >= g.maxAttempts {
		until := g.now().UTC().Add(g.lockDuration)
		if err := g.store.SetLockedUntil(ctx, userID, until); err != nil {
			return nil, fmt.Errorf("set lockout deadline: %w", err)
		}
		state.LockedUntil = &until

		g.logger.Warn("account locked after repeated two-factor failures",
			zap.String("user_id", userID),
			zap.Int("failed_attempts", count),
			zap.Time("locked_until", until),
		)

		if g.onLockout != nil {
			g.onLockout()
		}
	}

	return state, nil
}

// Remaining returns how long the active lockout has left, zero when unlocked.
// Expired locks read as absent because the store key carries the lock TTL.
func (g *LockoutGuard) Remaining(ctx context.Context, userID string) (time.Duration, error) {
	until, err := g.store.LockedUntil(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("lookup lockout deadline: %w", err)
	}
	if until == nil {
		return 0, nil
	}

	now := g.now().UTC()
	if !until.After(now) {
		return 0, nil
	}

	return until.Sub(now), nil
}

// RecordSuccess clears the failure counter and any active lock.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, userID string) error {
	if err := g.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear lockout state: %w", err)
	}
	return nil
}
