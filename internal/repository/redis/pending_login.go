package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

const (
	defaultPendingPrefix = "pending_login"

	fieldUserID      = "user_id"
	fieldRedirectURL = "redirect_url"
	fieldIP          = "ip"
	fieldUserAgent   = "user_agent"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
)

// PendingLoginRepository keeps in-flight login state in Redis hashes between
// the magic-link click and two-factor verification. Expiry is enforced by TTL.
type PendingLoginRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewPendingLoginRepository constructs a repository with the provided Redis client and key prefix.
func NewPendingLoginRepository(client *red.Client, keyPrefix string) *PendingLoginRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPendingPrefix
	}

	return &PendingLoginRepository{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Store persists pending login state keyed by its reference.
func (r *PendingLoginRepository) Store(ctx context.Context, pending domain.PendingLogin, ttl time.Duration) error {
	switch {
	case strings.TrimSpace(pending.Reference) == "":
		return errors.New("reference is required")
	case strings.TrimSpace(pending.UserID) == "":
		return errors.New("user id is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	key := r.key(pending.Reference)

	var ip, userAgent string
	if pending.IP != nil {
		ip = *pending.IP
	}
	if pending.UserAgent != nil {
		userAgent = *pending.UserAgent
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldUserID:      pending.UserID,
		fieldRedirectURL: pending.RedirectURL,
		fieldIP:          ip,
		fieldUserAgent:   userAgent,
		fieldCreatedAt:   strconv.FormatInt(pending.CreatedAt.UTC().Unix(), 10),
		fieldExpiresAt:   strconv.FormatInt(pending.ExpiresAt.UTC().Unix(), 10),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, r.userIndexKey(pending.UserID), pending.Reference)
	pipe.Expire(ctx, r.userIndexKey(pending.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store pending login: %w", err)
	}

	return nil
}

// Fetch retrieves pending login state by reference.
func (r *PendingLoginRepository) Fetch(ctx context.Context, reference string) (*domain.PendingLogin, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("reference is required")
	}

	values, err := r.client.HGetAll(ctx, r.key(reference)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall pending login: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	userID := strings.TrimSpace(values[fieldUserID])
	if userID == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnix(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	expiresAt, err := parseUnix(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	pending := &domain.PendingLogin{
		Reference:   reference,
		UserID:      userID,
		RedirectURL: values[fieldRedirectURL],
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}
	if ip := values[fieldIP]; ip != "" {
		pending.IP = &ip
	}
	if ua := values[fieldUserAgent]; ua != "" {
		pending.UserAgent = &ua
	}

	return pending, nil
}

// Delete removes the pending login entry, enforcing single-use semantics.
func (r *PendingLoginRepository) Delete(ctx context.Context, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return errors.New("reference is required")
	}

	deleted, err := r.client.Del(ctx, r.key(reference)).Result()
	if err != nil {
		return fmt.Errorf("redis delete pending login: %w", err)
	}
	if deleted == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteForUser drops every pending login belonging to the user. Used when
// two-factor settings change mid-flight.
func (r *PendingLoginRepository) DeleteForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	indexKey := r.userIndexKey(userID)
	references, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers pending logins: %w", err)
	}

	if len(references) == 0 {
		return nil
	}

	keys := make([]string, 0, len(references)+1)
	for _, ref := range references {
		keys = append(keys, r.key(ref))
	}
	keys = append(keys, indexKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete pending logins: %w", err)
	}

	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *PendingLoginRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *PendingLoginRepository) key(reference string) string {
	return fmt.Sprintf("%s:%s", r.prefix, reference)
}

func (r *PendingLoginRepository) userIndexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func parseUnix(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

var _ port.PendingLoginStore = (*PendingLoginRepository)(nil)
