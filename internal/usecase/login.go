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
	"github.com/lumenauth/magiclink-service/internal/infra/config"
	"github.com/lumenauth/magiclink-service/internal/infra/security"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

const defaultPendingTTL = 5 * time.Minute

var (
	// ErrLoginLinkInvalid is the uniform user-facing failure for any token
	// problem. The precise reason lives only in the audit log.
	ErrLoginLinkInvalid = errors.New("login link is invalid or has expired")
	// ErrPendingLoginExpired indicates the two-factor window elapsed.
	ErrPendingLoginExpired = errors.New("pending login expired")
)

// LoginStatus enumerates the outcomes of completing a magic link.
type LoginStatus string

const (
	// LoginStatusSession means a session was established directly.
	LoginStatusSession LoginStatus = "session"
	// LoginStatusTwoFactorRequired means a code must be verified first.
	LoginStatusTwoFactorRequired LoginStatus = "twofactor_required"
	// LoginStatusSetupRequired means the user must enroll before logging in.
	LoginStatusSetupRequired LoginStatus = "setup_required"
)

// LoginService orchestrates the full login state machine from a clicked
// magic link to an established session.
type LoginService struct {
	cfg        *config.AppConfig
	tokens     *TokenService
	twofactor  *TwoFactorService
	lockout    *LockoutGuard
	users      port.UserRepository
	pending    port.PendingLoginStore
	signer     *security.ReferenceSigner
	sessions   port.SessionProvider
	auditor    *Auditor
	logger     *zap.Logger
	now        func() time.Time
	pendingTTL time.Duration
}

// CompleteInput carries the parameters from a clicked magic link.
type CompleteInput struct {
	UserID      string
	Token       string
	RedirectURL string
	IP          string
	UserAgent   string
}

// CompleteResult describes the next step after token consumption.
type CompleteResult struct {
	Status      LoginStatus
	SessionID   string
	RedirectURL string
	// Reference is the signed pending-login handle, set only when Status is
	// LoginStatusTwoFactorRequired.
	Reference string
	User      *domain.User
}

// VerifyInput carries a two-factor verification attempt.
type VerifyInput struct {
	Reference string
	Code      string
	IP        string
	UserAgent string
}

// VerifyResult describes a completed two-factor login.
type VerifyResult struct {
	SessionID   string
	RedirectURL string
	User        *domain.User
}

// NewLoginService constructs a LoginService.
func NewLoginService(cfg *config.AppConfig, tokens *TokenService, twofactor *TwoFactorService, lockout *LockoutGuard, users port.UserRepository, pending port.PendingLoginStore, signer *security.ReferenceSigner, sessions port.SessionProvider, auditor *Auditor, log *zap.Logger) *LoginService {
	if log == nil {
		log = zap.NewNop()
	}

	ttl := defaultPendingTTL
	if cfg != nil && cfg.TwoFactor.PendingTTL > 0 {
		ttl = cfg.TwoFactor.PendingTTL
	}

	return &LoginService{
		cfg:        cfg,
		tokens:     tokens,
		twofactor:  twofactor,
		lockout:    lockout,
		users:      users,
		pending:    pending,
		signer:     signer,
		sessions:   sessions,
		auditor:    auditor,
		logger:     log,
		now:        time.Now,
		pendingTTL: ttl,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *LoginService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Complete consumes the presented token and decides the next step: an
// immediate session, a two-factor challenge, or an enrollment redirect.
// Every token failure maps to the uniform ErrLoginLinkInvalid.
func (s *LoginService) Complete(ctx context.Context, input CompleteInput) (*CompleteResult, error) {
	if s.tokens == nil || s.users == nil || s.sessions == nil {
		return nil, ErrLoginUnavailable
	}

	token, err := s.tokens.ValidateAndConsume(ctx, input.UserID, input.Token, input.IP, input.UserAgent)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound),
			errors.Is(err, ErrTokenExpired),
			errors.Is(err, ErrTokenAlreadyUsed),
			errors.Is(err, ErrTokenRevoked):
			return nil, ErrLoginLinkInvalid
		default:
			return nil, err
		}
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Token consumed for an account that vanished underneath it.
			s.audit(ctx, domain.AuditTokenRejected, domain.AuditOutcomeFailure, "user missing after consume", token.UserID, input.IP, input.UserAgent, nil)
			return nil, ErrLoginLinkInvalid
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive() {
		s.audit(ctx, domain.AuditTokenRejected, domain.AuditOutcomeFailure, "user inactive", user.ID, input.IP, input.UserAgent, nil)
		return nil, ErrLoginLinkInvalid
	}

	requirement, err := s.resolveRequirement(ctx, user)
	if err != nil {
		return nil, err
	}

	switch requirement {
	case twoFactorChallenge:
		return s.beginChallenge(ctx, user, input)
	case twoFactorSetup:
		s.audit(ctx, domain.AuditSetupRequired, domain.AuditOutcomeSuccess, "grace period expired, enrollment required", user.ID, input.IP, input.UserAgent, nil)
		return &CompleteResult{
			Status:      LoginStatusSetupRequired,
			RedirectURL: "/account/2fa/enroll",
			User:        user,
		}, nil
	default:
		return s.establish(ctx, user, input.RedirectURL, input.IP, input.UserAgent)
	}
}

// VerifyTwoFactor resolves the signed reference and verifies the presented
// code, establishing the session on success.
func (s *LoginService) VerifyTwoFactor(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	if s.pending == nil || s.signer == nil || s.twofactor == nil || s.sessions == nil || s.users == nil {
		return nil, ErrLoginUnavailable
	}

	reference, err := s.signer.Parse(strings.TrimSpace(input.Reference))
	if err != nil {
		return nil, ErrPendingLoginExpired
	}

	pending, err := s.pending.Fetch(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPendingLoginExpired
		}
		return nil, fmt.Errorf("fetch pending login: %w", err)
	}

	now := s.now().UTC()
	if pending.IsExpired(now) {
		_ = s.pending.Delete(ctx, reference)
		return nil, ErrPendingLoginExpired
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPendingLoginExpired
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	code := strings.TrimSpace(input.Code)

	// Backup codes are 8 characters from a letter/digit alphabet; TOTP codes
	// are 6 digits. Length picks the verification path.
	if len(code) == backupCodeLength {
		err = s.twofactor.UseBackupCode(ctx, user.ID, code)
	} else {
		err = s.twofactor.VerifyCode(ctx, user.ID, code)
	}
	if err != nil {
		return nil, err
	}

	if err := s.pending.Delete(ctx, reference); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("delete pending login failed", zap.String("reference", reference), zap.Error(err))
	}

	result, err := s.establish(ctx, user, pending.RedirectURL, input.IP, input.UserAgent)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		SessionID:   result.SessionID,
		RedirectURL: result.RedirectURL,
		User:        result.User,
	}, nil
}

type twoFactorRequirement int

const (
	twoFactorNone twoFactorRequirement = iota
	twoFactorChallenge
	twoFactorSetup
)

// resolveRequirement applies the policy ladder: kill switch, per-user
// enrollment, then role-based enforcement with its grace window.
func (s *LoginService) resolveRequirement(ctx context.Context, user *domain.User) (twoFactorRequirement, error) {
	if s.cfg == nil || !s.cfg.TwoFactor.Enabled || s.cfg.TwoFactor.EmergencyDisable {
		return twoFactorNone, nil
	}
	if s.twofactor == nil {
		return twoFactorNone, nil
	}

	settings, err := s.twofactor.Settings(ctx, user.ID)
	if err != nil {
		return twoFactorNone, err
	}

	if settings != nil && settings.HasConfirmedTOTP() {
		return twoFactorChallenge, nil
	}

	if !user.HasAnyRole(s.cfg.TwoFactor.RequiredRoles) {
		return twoFactorNone, nil
	}

	now := s.now().UTC()

	var requiredSince *time.Time
	if settings != nil {
		requiredSince = settings.RequiredSince
	}
	if requiredSince == nil {
		// First detection starts the grace window.
		if err := s.twofactor.MarkRequiredSince(ctx, user.ID, now); err != nil {
			s.logger.Warn("stamp twofactor requirement failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		return twoFactorNone, nil
	}

	policy := domain.GracePolicy{GraceDays: s.cfg.TwoFactor.GracePeriodDays}
	if policy.Expired(requiredSince, now) {
		return twoFactorSetup, nil
	}

	return twoFactorNone, nil
}

func (s *LoginService) beginChallenge(ctx context.Context, user *domain.User, input CompleteInput) (*CompleteResult, error) {
	if s.pending == nil || s.signer == nil {
		return nil, ErrLoginUnavailable
	}

	now := s.now().UTC()
	pending := domain.PendingLogin{
		Reference:   uuid.NewString(),
		UserID:      user.ID,
		RedirectURL: strings.TrimSpace(input.RedirectURL),
		IP:          stringPtrOrNil(input.IP),
		UserAgent:   stringPtrOrNil(input.UserAgent),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.pendingTTL),
	}

	if err := s.pending.Store(ctx, pending, s.pendingTTL); err != nil {
		return nil, fmt.Errorf("store pending login: %w", err)
	}

	signed, err := s.signer.Mint(pending.Reference, now, s.pendingTTL)
	if err != nil {
		return nil, fmt.Errorf("mint pending reference: %w", err)
	}

	s.audit(ctx, domain.AuditTwoFactorRequired, domain.AuditOutcomeSuccess, "token consumed, awaiting code", user.ID, input.IP, input.UserAgent, map[string]any{
		"pending_expires_at": pending.ExpiresAt,
	})

	return &CompleteResult{
		Status:      LoginStatusTwoFactorRequired,
		Reference:   signed,
		RedirectURL: "/login/verify-2fa",
		User:        user,
	}, nil
}

// establish creates the session and finishes the flow: lockout reset, token
// purge, pending purge, last-login stamp, redirect resolution, audit.
func (s *LoginService) establish(ctx context.Context, user *domain.User, redirectURL, ip, userAgent string) (*CompleteResult, error) {
	sessionID, err := s.sessions.EstablishSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	now := s.now().UTC()

	if s.lockout != nil {
		if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
			s.logger.Warn("clear lockout state failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	if s.tokens != nil {
		s.tokens.PurgeForUser(ctx, user.ID)
	}
	if s.pending != nil {
		if err := s.pending.DeleteForUser(ctx, user.ID); err != nil {
			s.logger.Warn("purge pending logins failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	if s.users != nil {
		if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("stamp last login failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	target := s.resolveRedirect(user, redirectURL)

	s.audit(ctx, domain.AuditSessionEstablished, domain.AuditOutcomeSuccess, "session established", user.ID, ip, userAgent, map[string]any{
		"session_id": sessionID,
		"redirect":   target,
	})

	return &CompleteResult{
		Status:      LoginStatusSession,
		SessionID:   sessionID,
		RedirectURL: target,
		User:        user,
	}, nil
}

// resolveRedirect picks the post-login target: explicit request value, then
// the configured default, then the first matching role redirect, then home.
func (s *LoginService) resolveRedirect(user *domain.User, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}

	if s.cfg != nil {
		if s.cfg.Auth.DefaultRedirect != "" && s.cfg.Auth.DefaultRedirect != "/" {
			return s.cfg.Auth.DefaultRedirect
		}
		for _, role := range user.Roles {
			if target, ok := s.cfg.Auth.RoleRedirects[role]; ok && target != "" {
				return target
			}
		}
		if s.cfg.Auth.DefaultRedirect != "" {
			return s.cfg.Auth.DefaultRedirect
		}
	}

	return "/"
}

func (s *LoginService) audit(ctx context.Context, event domain.AuditEventKind, outcome domain.AuditOutcome, reason, userID, ip, userAgent string, metadata map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, domain.AuditRecord{
		UserID:    stringPtrOrNil(userID),
		Event:     event,
		Outcome:   outcome,
		Reason:    reason,
		IP:        stringPtrOrNil(ip),
		UserAgent: stringPtrOrNil(userAgent),
		Metadata:  metadata,
	})
}
