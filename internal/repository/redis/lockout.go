package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/lumenauth/magiclink-service/internal/core/port"
)

const defaultLockoutPrefix = "lockout"

// LockoutRepository tracks failed two-factor attempts in Redis. The failure
// counter uses atomic INCR so racing failures observe distinct counts.
type LockoutRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewLockoutRepository constructs a repository with the provided Redis client and key prefix.
func NewLockoutRepository(client *red.Client, keyPrefix string) *LockoutRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultLockoutPrefix
	}

	return &LockoutRepository{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// IncrementFailures atomically bumps the failure counter and returns the new
// count. The ttl bounds how long stale counters survive.
func (r *LockoutRepository) IncrementFailures(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.New("user id is required")
	}

	key := r.failsKey(userID)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr lockout failures: %w", err)
	}

	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("redis expire lockout failures: %w", err)
		}
	}

	return int(count), nil
}

// FailureCount returns the current failure counter, zero when absent.
func (r *LockoutRepository) FailureCount(ctx context.Context, userID string) (int, error) {
	raw, err := r.client.Get(ctx, r.failsKey(userID)).Result()
	if errors.Is(err, red.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get lockout failures: %w", err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse lockout failures: %w", err)
	}

	return count, nil
}

// SetLockedUntil records the lockout deadline. The key expires with the
// lockout itself so an expired lock reads as absent.
func (r *LockoutRepository) SetLockedUntil(ctx context.Context, userID string, until time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}

	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return errors.New("lockout deadline must be in the future")
	}

	value := strconv.FormatInt(until.UTC().Unix(), 10)
	if err := r.client.Set(ctx, r.untilKey(userID), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set locked until: %w", err)
	}

	return nil
}

// LockedUntil returns the lockout deadline, or nil when the user is not locked.
func (r *LockoutRepository) LockedUntil(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := r.client.Get(ctx, r.untilKey(userID)).Result()
	if errors.Is(err, red.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get locked until: %w", err)
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse locked until: %w", err)
	}

	until := time.Unix(unix, 0).UTC()
	return &until, nil
}

// Clear removes both the failure counter and any active lock.
func (r *LockoutRepository) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}

	if err := r.client.Del(ctx, r.failsKey(userID), r.untilKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear lockout: %w", err)
	}

	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *LockoutRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *LockoutRepository) failsKey(userID string) string {
	return fmt.Sprintf("%s:fails:%s", r.prefix, userID)
}

func (r *LockoutRepository) untilKey(userID string) string {
	return fmt.Sprintf("%s:until:%s", r.prefix, userID)
}

var _ port.LockoutStore = (*LockoutRepository)(nil)
