package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
)

// AuditLogRepository appends login audit records to PostgreSQL.
type AuditLogRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditLogRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewAuditLogRepository(exec pgExecutor) *AuditLogRepository {
	repo := &AuditLogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Record appends a single audit entry. The table is append-only; there is no
// update or delete path.
func (r *AuditLogRepository) Record(ctx context.Context, record domain.AuditRecord) error {
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("prepare audit metadata: %w", err)
	}

	sql, args, err := r.builder.Insert("magiclink.login_audit").
		Columns(
			"id",
			"user_id",
			"event",
			"outcome",
			"reason",
			"ip",
			"user_agent",
			"created_at",
			"metadata",
		).
		Values(
			record.ID,
			record.UserID,
			string(record.Event),
			string(record.Outcome),
			record.Reason,
			record.IP,
			record.UserAgent,
			record.CreatedAt,
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit record sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

var _ port.AuditLog = (*AuditLogRepository)(nil)
