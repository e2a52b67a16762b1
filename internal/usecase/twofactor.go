package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/infra/security"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8
)

var (
	// ErrTwoFactorUnavailable indicates the service is not properly configured.
	ErrTwoFactorUnavailable = errors.New("two-factor service unavailable")
	// ErrTwoFactorNotEnrolled indicates the user has no confirmed TOTP secret.
	ErrTwoFactorNotEnrolled = errors.New("two-factor not enrolled")
	// ErrTwoFactorAlreadyEnabled indicates enrollment was already confirmed.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorInvalidCode indicates the presented code failed verification.
	ErrTwoFactorInvalidCode = errors.New("two-factor code invalid")
	// ErrEnrollmentNotStarted indicates confirmation arrived before enrollment.
	ErrEnrollmentNotStarted = errors.New("two-factor enrollment not started")
)

// TwoFactorService manages TOTP enrollment, verification, and backup codes.
type TwoFactorService struct {
	settings port.TwoFactorRepository
	users    port.UserRepository
	totp     *security.TOTPEngine
	replay   port.ReplayGuard
	lockout  *LockoutGuard
	pending  port.PendingLoginStore
	auditor  *Auditor
	logger   *zap.Logger
	now      func() time.Time
}

// EnrollmentResult carries the secret material shown to the user exactly once.
type EnrollmentResult struct {
	Secret          string
	ProvisioningURI string
}

// NewTwoFactorService constructs a TwoFactorService.
func NewTwoFactorService(settings port.TwoFactorRepository, users port.UserRepository, totp *security.TOTPEngine, replay port.ReplayGuard, lockout *LockoutGuard, pending port.PendingLoginStore, auditor *Auditor, log *zap.Logger) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}

	return &TwoFactorService{
		settings: settings,
		users:    users,
		totp:     totp,
		replay:   replay,
		lockout:  lockout,
		pending:  pending,
		auditor:  auditor,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// BeginEnrollment generates a fresh TOTP secret for the user and stores it
// unconfirmed. Re-running enrollment before confirmation replaces the secret.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID string) (*EnrollmentResult, error) {
	if s.settings == nil || s.totp == nil {
		return nil, ErrTwoFactorUnavailable
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	accountName := userID
	if s.users != nil {
		if user, err := s.users.GetByID(ctx, userID); err == nil {
			accountName = user.Email
		}
	}

	existing, err := s.settings.GetSettings(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup twofactor settings: %w", err)
	}
	if existing != nil && existing.HasConfirmedTOTP() {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, uri, err := s.totp.GenerateSecret(accountName)
	if err != nil {
		return nil, fmt.Errorf("generate enrollment secret: %w", err)
	}

	now := s.now().UTC()
	settings := domain.TwoFactorSettings{
		UserID:      userID,
		TOTPSecret:  secret,
		TOTPEnabled: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		settings.CreatedAt = existing.CreatedAt
		settings.RequiredSince = existing.RequiredSince
	}

	if err := s.settings.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("store enrollment secret: %w", err)
	}

	s.audit(ctx, domain.AuditEnrollmentStarted, domain.AuditOutcomeSuccess, "enrollment secret issued", userID, nil)

	return &EnrollmentResult{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmEnrollment verifies the first code against the pending secret,
// enables TOTP, and returns the one-time backup codes in plaintext. The codes
// are never recoverable afterwards.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	if s.settings == nil || s.totp == nil {
		return nil, ErrTwoFactorUnavailable
	}

	settings, err := s.settings.GetSettings(ctx, strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEnrollmentNotStarted
		}
		return nil, fmt.Errorf("lookup twofactor settings: %w", err)
	}
	if settings.TOTPSecret == "" {
		return nil, ErrEnrollmentNotStarted
	}
	if settings.HasConfirmedTOTP() {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	now := s.now().UTC()
	ok, err := s.totp.VerifyCode(strings.TrimSpace(code), settings.TOTPSecret, now)
	if err != nil {
		return nil, fmt.Errorf("verify enrollment code: %w", err)
	}
	if !ok {
		s.audit(ctx, domain.AuditEnrollmentStarted, domain.AuditOutcomeFailure, "enrollment confirmation code invalid", settings.UserID, nil)
		return nil, ErrTwoFactorInvalidCode
	}

	plaintext, hashed, err := s.generateBackupCodes(settings.UserID, now)
	if err != nil {
		return nil, err
	}

	settings.TOTPEnabled = true
	settings.ConfirmedAt = &now
	settings.UpdatedAt = now

	if err := s.settings.SaveSettings(ctx, *settings); err != nil {
		return nil, fmt.Errorf("enable twofactor: %w", err)
	}
	if err := s.settings.ReplaceBackupCodes(ctx, settings.UserID, hashed); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}

	s.audit(ctx, domain.AuditEnrollmentDone, domain.AuditOutcomeSuccess, "enrollment confirmed", settings.UserID, map[string]any{
		"backup_codes": len(plaintext),
	})

	return plaintext, nil
}

// VerifyCode checks a 6-digit TOTP code for the user. The lockout gate runs
// first; an accepted step is remembered so the same code cannot be replayed
// within its skew window.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string) error {
	if s.settings == nil || s.totp == nil {
		return ErrTwoFactorUnavailable
	}

	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)

	if err := s.gateLockout(ctx, userID); err != nil {
		return err
	}

	settings, err := s.settings.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return fmt.Errorf("lookup twofactor settings: %w", err)
	}
	if !settings.HasConfirmedTOTP() {
		return ErrTwoFactorNotEnrolled
	}

	now := s.now().UTC()
	step := s.totp.Step(now)

	if s.replay != nil {
		last, err := s.replay.LastAcceptedStep(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup accepted step: %w", err)
		}
		// Codes from steps at or before the last accepted one are replays,
		// even when cryptographically valid.
		if last >= 0 && step <= last {
			return s.fail(ctx, userID, "totp step replayed")
		}
	}

	ok, err := s.totp.VerifyCode(code, settings.TOTPSecret, now)
	if err != nil {
		return fmt.Errorf("verify totp code: %w", err)
	}
	if !ok {
		return s.fail(ctx, userID, "totp code invalid")
	}

	if s.replay != nil {
		if err := s.replay.RecordAcceptedStep(ctx, userID, step, s.totp.ReplayWindow()); err != nil {
			s.logger.Warn("record accepted totp step failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	settings.LastUsedAt = &now
	settings.UpdatedAt = now
	if err := s.settings.SaveSettings(ctx, *settings); err != nil {
		s.logger.Warn("update twofactor last use failed", zap.String("user_id", userID), zap.Error(err))
	}

	if s.lockout != nil {
		if err := s.lockout.RecordSuccess(ctx, userID); err != nil {
			s.logger.Warn("clear lockout state failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.audit(ctx, domain.AuditTwoFactorVerified, domain.AuditOutcomeSuccess, "totp code accepted", userID, nil)

	return nil
}

// UseBackupCode verifies a recovery code against the user's unused hashes and
// consumes the matching one. Each code works exactly once.
func (s *TwoFactorService) UseBackupCode(ctx context.Context, userID, code string) error {
	if s.settings == nil {
		return ErrTwoFactorUnavailable
	}

	userID = strings.TrimSpace(userID)
	code = strings.ToUpper(strings.TrimSpace(code))

	if err := s.gateLockout(ctx, userID); err != nil {
		return err
	}

	codes, err := s.settings.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("list backup codes: %w", err)
	}

	now := s.now().UTC()
	for _, candidate := range codes {
		match, err := security.VerifyBackupCode(code, candidate.CodeHash)
		if err != nil {
			s.logger.Warn("backup code hash unreadable", zap.String("backup_code_id", candidate.ID), zap.Error(err))
			continue
		}
		if !match {
			continue
		}

		if err := s.settings.ConsumeBackupCode(ctx, candidate.ID, now); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Consumed concurrently; treat as spent.
				return s.fail(ctx, userID, "backup code consumed concurrently")
			}
			return fmt.Errorf("consume backup code: %w", err)
		}

		if s.lockout != nil {
			if err := s.lockout.RecordSuccess(ctx, userID); err != nil {
				s.logger.Warn("clear lockout state failed", zap.String("user_id", userID), zap.Error(err))
			}
		}

		s.audit(ctx, domain.AuditBackupCodeConsumed, domain.AuditOutcomeSuccess, "backup code accepted", userID, map[string]any{
			"remaining": len(codes) - 1,
		})

		return nil
	}

	return s.fail(ctx, userID, "backup code invalid")
}

// Disable removes the user's TOTP settings, backup codes, lockout counters,
// and any pending logins referencing the old requirement.
func (s *TwoFactorService) Disable(ctx context.Context, userID string) error {
	if s.settings == nil {
		return ErrTwoFactorUnavailable
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	if err := s.settings.DeleteSettings(ctx, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete twofactor settings: %w", err)
	}
	if _, err := s.settings.DeleteBackupCodes(ctx, userID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}

	if s.lockout != nil {
		if err := s.lockout.RecordSuccess(ctx, userID); err != nil {
			s.logger.Warn("clear lockout state failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if s.pending != nil {
		if err := s.pending.DeleteForUser(ctx, userID); err != nil {
			s.logger.Warn("purge pending logins failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.audit(ctx, domain.AuditTwoFactorDisabled, domain.AuditOutcomeSuccess, "twofactor disabled", userID, nil)

	return nil
}

// MarkRequiredSince stamps the first detection of a role-based requirement.
func (s *TwoFactorService) MarkRequiredSince(ctx context.Context, userID string, at time.Time) error {
	if s.settings == nil {
		return ErrTwoFactorUnavailable
	}
	if err := s.settings.MarkRequiredSince(ctx, userID, at); err != nil {
		return fmt.Errorf("mark required since: %w", err)
	}
	return nil
}

// Settings returns the stored two-factor configuration, nil when absent.
func (s *TwoFactorService) Settings(ctx context.Context, userID string) (*domain.TwoFactorSettings, error) {
	if s.settings == nil {
		return nil, ErrTwoFactorUnavailable
	}

	settings, err := s.settings.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup twofactor settings: %w", err)
	}

	return settings, nil
}

func (s *TwoFactorService) gateLockout(ctx context.Context, userID string) error {
	if s.lockout == nil {
		return nil
	}

	remaining, err := s.lockout.Remaining(ctx, userID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		s.audit(ctx, domain.AuditTwoFactorLocked, domain.AuditOutcomeFailure, "verification attempted while locked", userID, map[string]any{
			"retry_after_seconds": int(remaining.Seconds()),
		})
		return &TwoFactorLockedError{RetryAfter: remaining}
	}

	return nil
}

// fail records a failed verification attempt and maps the lockout threshold
// crossing onto TwoFactorLockedError.
func (s *TwoFactorService) fail(ctx context.Context, userID, reason string) error {
	s.audit(ctx, domain.AuditTwoFactorRejected, domain.AuditOutcomeFailure, reason, userID, nil)

	if s.lockout == nil {
		return ErrTwoFactorInvalidCode
	}

	state, err := s.lockout.RecordFailure(ctx, userID)
	if err != nil {
		s.logger.Warn("record twofactor failure failed", zap.String("user_id", userID), zap.Error(err))
		return ErrTwoFactorInvalidCode
	}

	if state.LockedUntil != nil {
		remaining := state.Remaining(s.now().UTC())
		s.audit(ctx, domain.AuditTwoFactorLocked, domain.AuditOutcomeFailure, "lockout threshold reached", userID, map[string]any{
			"failed_attempts": state.FailedAttempts,
		})
		return &TwoFactorLockedError{RetryAfter: remaining}
	}

	return ErrTwoFactorInvalidCode
}

func (s *TwoFactorService) generateBackupCodes(userID string, now time.Time) ([]string, []domain.BackupCode, error) {
	plaintext := make([]string, 0, backupCodeCount)
	hashed := make([]domain.BackupCode, 0, backupCodeCount)

	for i := 0; i < backupCodeCount; i++ {
		code, err := security.GenerateBackupCode(backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}

		hash, err := security.HashBackupCode(code)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}

		plaintext = append(plaintext, code)
		hashed = append(hashed, domain.BackupCode{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
	}

	return plaintext, hashed, nil
}

func (s *TwoFactorService) audit(ctx context.Context, event domain.AuditEventKind, outcome domain.AuditOutcome, reason, userID string, metadata map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, domain.AuditRecord{
		UserID:   stringPtrOrNil(userID),
		Event:    event,
		Outcome:  outcome,
		Reason:   reason,
		Metadata: metadata,
	})
}
