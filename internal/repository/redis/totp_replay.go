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

const defaultReplayPrefix = "totp_step"

// ReplayGuardRepository remembers the last accepted TOTP time step per user.
// A remembered step outlives the code's skew window via TTL, after which the
// step counter has moved on and the key is irrelevant.
type ReplayGuardRepository struct {
	client *red.Client
	prefix string
}

// NewReplayGuardRepository constructs a repository with the provided Redis client and key prefix.
func NewReplayGuardRepository(client *red.Client, keyPrefix string) *ReplayGuardRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultReplayPrefix
	}

	return &ReplayGuardRepository{client: client, prefix: prefix}
}

// LastAcceptedStep returns the most recently accepted step, or -1 when none
// is recorded.
func (r *ReplayGuardRepository) LastAcceptedStep(ctx context.Context, userID string) (int64, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, red.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get accepted step: %w", err)
	}

	step, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse accepted step: %w", err)
	}

	return step, nil
}

// RecordAcceptedStep stores the accepted step with the supplied TTL.
func (r *ReplayGuardRepository) RecordAcceptedStep(ctx context.Context, userID string, step int64, ttl time.Duration) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	value := strconv.FormatInt(step, 10)
	if err := r.client.Set(ctx, r.key(userID), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set accepted step: %w", err)
	}

	return nil
}

func (r *ReplayGuardRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

var _ port.ReplayGuard = (*ReplayGuardRepository)(nil)
