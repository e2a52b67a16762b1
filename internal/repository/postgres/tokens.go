package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

// LoginTokenRepository implements port.LoginTokenRepository using PostgreSQL.
type LoginTokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewLoginTokenRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewLoginTokenRepository(exec pgExecutor) *LoginTokenRepository {
	repo := &LoginTokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *LoginTokenRepository) WithTx(tx pgx.Tx) *LoginTokenRepository {
	if tx == nil {
		return r
	}
	return &LoginTokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new magic-link token record.
func (r *LoginTokenRepository) Create(ctx context.Context, token domain.LoginToken) error {
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return fmt.Errorf("prepare login token metadata: %w", err)
	}

	sql, args, err := r.builder.Insert("magiclink.login_tokens").
		Columns(
			"id",
			"user_id",
			"token_hash",
			"ip",
			"user_agent",
			"device_fingerprint",
			"created_at",
			"expires_at",
			"used_at",
			"revoked_at",
			"attempt_count",
			"metadata",
		).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.IP,
			token.UserAgent,
			token.DeviceFingerprint,
			token.CreatedAt,
			token.ExpiresAt,
			token.UsedAt,
			token.RevokedAt,
			token.AttemptCount,
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert login token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert login token: %w", err)
	}

	return nil
}

// GetByHash retrieves a login token by its hashed value.
func (r *LoginTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.LoginToken, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"token_hash",
		"ip",
		"user_agent",
		"device_fingerprint",
		"created_at",
		"expires_at",
		"used_at",
		"revoked_at",
		"attempt_count",
		"metadata",
	).
		From("magiclink.login_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select login token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token       domain.LoginToken
		ip          sql.NullString
		userAgent   sql.NullString
		fingerprint sql.NullString
		usedAt      sql.NullTime
		revokedAt   sql.NullTime
		metadata    []byte
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&ip,
		&userAgent,
		&fingerprint,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
		&token.AttemptCount,
		&metadata,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan login token: %w", err)
	}

	token.IP = nullableStringPtr(ip)
	token.UserAgent = nullableStringPtr(userAgent)
	token.DeviceFingerprint = nullableStringPtr(fingerprint)
	token.UsedAt = nullableTimePtr(usedAt)
	token.RevokedAt = nullableTimePtr(revokedAt)
	if len(metadata) > 0 {
		meta, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("unmarshal login token metadata: %w", err)
		}
		token.Metadata = meta
	}

	return &token, nil
}

// Consume marks a token as used if it has not been consumed yet. The
// conditional update makes concurrent consumers race for a single row, so at
// most one caller succeeds.
func (r *LoginTokenRepository) Consume(ctx context.Context, id string, usedAt time.Time) error {
	sql, args, err := r.builder.Update("magiclink.login_tokens").
		Set("used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume login token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("consume login token: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementAttempts increments the attempt counter and returns the new value.
func (r *LoginTokenRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	stmt := `
		UPDATE magiclink.login_tokens
		   SET attempt_count = attempt_count + 1
		 WHERE id = $1
		 RETURNING attempt_count;
	`

	var count int
	if err := r.exec.QueryRow(ctx, stmt, id).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment login token attempts: %w", err)
	}

	return count, nil
}

// RevokeActiveForUser revokes all unused, unrevoked tokens for a user and
// returns how many were affected. Issuing a new link invalidates older ones.
func (r *LoginTokenRepository) RevokeActiveForUser(ctx context.Context, userID string, revokedAt time.Time) (int, error) {
	sql, args, err := r.builder.Update("magiclink.login_tokens").
		Set("revoked_at", revokedAt.UTC()).
		Where(squirrel.Eq{"user_id": userID}).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke login tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke login tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// DeleteExpired removes tokens whose expiry is before the supplied cutoff.
func (r *LoginTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	sql, args, err := r.builder.Delete("magiclink.login_tokens").
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired login tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// DeleteForUser removes every token belonging to a user.
func (r *LoginTokenRepository) DeleteForUser(ctx context.Context, userID string) (int, error) {
	sql, args, err := r.builder.Delete("magiclink.login_tokens").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete user tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete login tokens for user: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return payload, nil
}

func unmarshalMetadata(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var meta map[string]any
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

var _ port.LoginTokenRepository = (*LoginTokenRepository)(nil)
