package postgres

import (
	"context"
	"database/sql"
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

// TwoFactorRepository implements port.TwoFactorRepository using PostgreSQL.
type TwoFactorRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTwoFactorRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewTwoFactorRepository(exec pgExecutor) *TwoFactorRepository {
	repo := &TwoFactorRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TwoFactorRepository) WithTx(tx pgx.Tx) *TwoFactorRepository {
	if tx == nil {
		return r
	}
	return &TwoFactorRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// GetSettings retrieves the TOTP configuration for a user.
func (r *TwoFactorRepository) GetSettings(ctx context.Context, userID string) (*domain.TwoFactorSettings, error) {
	stmt, args, err := r.builder.Select(
		"user_id",
		"totp_secret",
		"totp_enabled",
		"confirmed_at",
		"required_since",
		"last_used_at",
		"created_at",
		"updated_at",
	).
		From("magiclink.twofactor_settings").
		Where(squirrel.Eq{"user_id": userID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select twofactor settings sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		settings      domain.TwoFactorSettings
		confirmedAt   sql.NullTime
		requiredSince sql.NullTime
		lastUsedAt    sql.NullTime
	)

	if err := row.Scan(
		&settings.UserID,
		&settings.TOTPSecret,
		&settings.TOTPEnabled,
		&confirmedAt,
		&requiredSince,
		&lastUsedAt,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan twofactor settings: %w", err)
	}

	settings.ConfirmedAt = nullableTimePtr(confirmedAt)
	settings.RequiredSince = nullableTimePtr(requiredSince)
	settings.LastUsedAt = nullableTimePtr(lastUsedAt)

	return &settings, nil
}

// SaveSettings upserts the TOTP configuration for a user.
func (r *TwoFactorRepository) SaveSettings(ctx context.Context, settings domain.TwoFactorSettings) error {
	stmt := `
		INSERT INTO magiclink.twofactor_settings
			(user_id, totp_secret, totp_enabled, confirmed_at, required_since, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			totp_secret = EXCLUDED.totp_secret,
			totp_enabled = EXCLUDED.totp_enabled,
			confirmed_at = EXCLUDED.confirmed_at,
			required_since = EXCLUDED.required_since,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at;
	`

	if _, err := r.exec.Exec(ctx, stmt,
		settings.UserID,
		settings.TOTPSecret,
		settings.TOTPEnabled,
		settings.ConfirmedAt,
		settings.RequiredSince,
		settings.LastUsedAt,
		settings.CreatedAt,
		settings.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert twofactor settings: %w", err)
	}

	return nil
}

// MarkRequiredSince records when the two-factor requirement was first seen for
// a user, preserving an earlier timestamp if one exists.
func (r *TwoFactorRepository) MarkRequiredSince(ctx context.Context, userID string, at time.Time) error {
	stmt := `
		INSERT INTO magiclink.twofactor_settings
			(user_id, totp_secret, totp_enabled, required_since, created_at, updated_at)
		VALUES ($1, '', FALSE, $2, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			required_since = LEAST(COALESCE(magiclink.twofactor_settings.required_since, EXCLUDED.required_since), EXCLUDED.required_since),
			updated_at = EXCLUDED.updated_at;
	`

	if _, err := r.exec.Exec(ctx, stmt, userID, at.UTC()); err != nil {
		return fmt.Errorf("mark twofactor required since: %w", err)
	}

	return nil
}

// DeleteSettings removes the TOTP configuration for a user.
func (r *TwoFactorRepository) DeleteSettings(ctx context.Context, userID string) error {
	sql, args, err := r.builder.Delete("magiclink.twofactor_settings").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete twofactor settings sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete twofactor settings: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ReplaceBackupCodes deletes existing backup codes for a user and inserts the
// replacement set. When a pool is available the statements run inside a single
// transaction; otherwise they execute sequentially on the bound executor.
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codes []domain.BackupCode) error {
	exec := r.exec
	if r.pool != nil {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin replace backup codes: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		exec = tx

		if err := r.replaceBackupCodes(ctx, exec, userID, codes); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit replace backup codes: %w", err)
		}

		return nil
	}

	return r.replaceBackupCodes(ctx, exec, userID, codes)
}

func (r *TwoFactorRepository) replaceBackupCodes(ctx context.Context, exec pgExecutor, userID string, codes []domain.BackupCode) error {
	deleteSQL, deleteArgs, err := r.builder.Delete("magiclink.backup_codes").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete backup codes sql: %w", err)
	}

	if _, err := exec.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}

	for _, code := range codes {
		insertSQL, insertArgs, err := r.builder.Insert("magiclink.backup_codes").
			Columns("id", "user_id", "code_hash", "created_at", "used_at").
			Values(code.ID, code.UserID, code.CodeHash, code.CreatedAt, code.UsedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert backup code sql: %w", err)
		}

		if _, err := exec.Exec(ctx, insertSQL, insertArgs...); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	return nil
}

// ListUnusedBackupCodes returns the remaining unconsumed codes for a user.
func (r *TwoFactorRepository) ListUnusedBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "code_hash", "created_at", "used_at").
		From("magiclink.backup_codes").
		Where(squirrel.Eq{"user_id": userID}).
		Where("used_at IS NULL").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list backup codes sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []domain.BackupCode
	for rows.Next() {
		var (
			code   domain.BackupCode
			usedAt sql.NullTime
		)
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.CreatedAt, &usedAt); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		code.UsedAt = nullableTimePtr(usedAt)
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup codes: %w", err)
	}

	return codes, nil
}

// ConsumeBackupCode marks a code as used if it is still unused. Concurrent
// consumers race for a single conditional update; the loser gets ErrNotFound.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, id string, usedAt time.Time) error {
	sql, args, err := r.builder.Update("magiclink.backup_codes").
		Set("used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume backup code sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("consume backup code: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteBackupCodes removes every backup code for a user and reports how many
// rows were deleted.
func (r *TwoFactorRepository) DeleteBackupCodes(ctx context.Context, userID string) (int, error) {
	sql, args, err := r.builder.Delete("magiclink.backup_codes").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete backup codes sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete backup codes: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.TwoFactorRepository = (*TwoFactorRepository)(nil)
