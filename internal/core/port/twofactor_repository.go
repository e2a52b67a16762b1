package port

import (
	"context"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// TwoFactorRepository persists per-user TOTP settings and backup codes.
type TwoFactorRepository interface {
	GetSettings(ctx context.Context, userID string) (*domain.TwoFactorSettings, error)
	SaveSettings(ctx context.Context, settings domain.TwoFactorSettings) error
	MarkRequiredSince(ctx context.Context, userID string, at time.Time) error
	DeleteSettings(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []domain.BackupCode) error
	ListUnusedBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error)
	// ConsumeBackupCode marks the code used if and only if it is still
	// unused; the loser of a concurrent race receives repository.ErrNotFound.
	ConsumeBackupCode(ctx context.Context, id string, usedAt time.Time) error
	DeleteBackupCodes(ctx context.Context, userID string) (int, error)
}
