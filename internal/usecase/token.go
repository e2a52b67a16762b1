package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/infra/config"
	"github.com/lumenauth/magiclink-service/internal/infra/logger"
	"github.com/lumenauth/magiclink-service/internal/infra/security"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

const (
	defaultTokenTTL  = 600 * time.Second
	rawTokenBytes    = 32
	loginRequestRate = "login_request"

	loginEmailSubject = "Your sign-in link"
)

var (
	// ErrLoginUnavailable indicates the token service is not properly configured.
	ErrLoginUnavailable = errors.New("login service unavailable")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive indicates the account may not authenticate.
	ErrUserInactive = errors.New("user is not active")
	// ErrMailSendFailure indicates the login email could not be delivered.
	ErrMailSendFailure = errors.New("login email delivery failed")

	// ErrTokenNotFound indicates no token matches the presented value.
	ErrTokenNotFound = errors.New("login token not found")
	// ErrTokenExpired indicates the token elapsed its validity window.
	ErrTokenExpired = errors.New("login token expired")
	// ErrTokenAlreadyUsed indicates the token was already consumed.
	ErrTokenAlreadyUsed = errors.New("login token already used")
	// ErrTokenRevoked indicates the token was superseded or revoked.
	ErrTokenRevoked = errors.New("login token revoked")
)

// RateLimitExceededError reports that a sliding-window limit was hit.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

// TokenService issues and validates single-use magic-link tokens.
type TokenService struct {
	cfg        *config.AppConfig
	tokens     port.LoginTokenRepository
	users      port.UserRepository
	mailer     port.Mailer
	hasher     *security.TokenHasher
	rateLimits port.RateLimitStore
	auditor    *Auditor
	logger     *zap.Logger
	now        func() time.Time
	tokenTTL   time.Duration
}

// IssueInput captures the request context for issuing a magic link.
type IssueInput struct {
	UserID            string
	Email             string
	RedirectURL       string
	IP                string
	UserAgent         string
	DeviceFingerprint string
}

// IssueResult describes the generated magic link.
type IssueResult struct {
	TokenID   string
	LoginURL  string
	ExpiresAt time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(cfg *config.AppConfig, tokens port.LoginTokenRepository, users port.UserRepository, mailer port.Mailer, hasher *security.TokenHasher, rateLimits port.RateLimitStore, auditor *Auditor, log *zap.Logger) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}

	ttl := defaultTokenTTL
	if cfg != nil && cfg.Auth.TokenTTL > 0 {
		ttl = cfg.Auth.TokenTTL
	}

	return &TokenService{
		cfg:        cfg,
		tokens:     tokens,
		users:      users,
		mailer:     mailer,
		hasher:     hasher,
		rateLimits: rateLimits,
		auditor:    auditor,
		logger:     log,
		now:        time.Now,
		tokenTTL:   ttl,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTTL allows tests to override the token validity window.
func (s *TokenService) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
}

// Issue generates a fresh login token for the user, revokes prior unused
// tokens so only the most recent link validates, and delivers the link by
// email. A mail failure revokes the stored token and surfaces
// ErrMailSendFailure.
func (s *TokenService) Issue(ctx context.Context, input IssueInput) (*IssueResult, error) {
	if s.tokens == nil || s.users == nil || s.hasher == nil {
		return nil, ErrLoginUnavailable
	}

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive() {
		return nil, ErrUserInactive
	}

	now := s.now().UTC()

	if err := s.enforceIssueRateLimit(ctx, user.Email, input.IP, now); err != nil {
		return nil, err
	}

	// Cleanup before issue so dead rows never accumulate per user.
	if _, err := s.tokens.DeleteExpired(ctx, now); err != nil {
		s.logger.Warn("prune expired login tokens failed", zap.Error(err))
	}
	if _, err := s.tokens.RevokeActiveForUser(ctx, userID, now); err != nil {
		s.logger.Warn("revoke prior login tokens failed", zap.String("user_id", userID), zap.Error(err))
	}

	raw, err := security.GenerateSecureToken(rawTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate login token: %w", err)
	}

	expiresAt := now.Add(s.tokenTTL)
	token := domain.LoginToken{
		ID:                uuid.NewString(),
		UserID:            userID,
		TokenHash:         s.hasher.Hash(raw),
		IP:                stringPtrOrNil(input.IP),
		UserAgent:         stringPtrOrNil(input.UserAgent),
		DeviceFingerprint: stringPtrOrNil(input.DeviceFingerprint),
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("store login token: %w", err)
	}

	loginURL := s.buildLoginURL(userID, raw, input.RedirectURL)

	if s.mailer != nil {
		body := loginEmailBody(user.DisplayName, loginURL, s.tokenTTL)
		if err := s.mailer.Send(ctx, user.Email, loginEmailSubject, body); err != nil {
			s.logger.Error("login email delivery failed",
				zap.String("user_id", userID),
				zap.String("email", logger.MaskEmail(user.Email)),
				zap.Error(err),
			)
			// The link never reached the user; do not leave it redeemable.
			if _, revokeErr := s.tokens.RevokeActiveForUser(ctx, userID, s.now().UTC()); revokeErr != nil {
				s.logger.Warn("revoke undelivered token failed", zap.String("user_id", userID), zap.Error(revokeErr))
			}
			return nil, ErrMailSendFailure
		}
	}

	s.audit(ctx, domain.AuditLoginRequested, domain.AuditOutcomeSuccess, "magic link issued", userID, input.IP, input.UserAgent, map[string]any{
		"token_id":   token.ID,
		"expires_at": expiresAt,
	})

	return &IssueResult{
		TokenID:   token.ID,
		LoginURL:  loginURL,
		ExpiresAt: expiresAt,
	}, nil
}

// RequestByEmail resolves the account behind an email address and issues a
// login link for it. Callers are expected to hide ErrUserNotFound and
// ErrUserInactive from the requester so accounts cannot be enumerated.
func (s *TokenService) RequestByEmail(ctx context.Context, input IssueInput) (*IssueResult, error) {
	if s.users == nil {
		return nil, ErrLoginUnavailable
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, ErrUserNotFound
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit(ctx, domain.AuditLoginRequested, domain.AuditOutcomeFailure, "unknown email", "", input.IP, input.UserAgent, map[string]any{
				"email": logger.MaskEmail(email),
			})
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	input.UserID = user.ID
	return s.Issue(ctx, input)
}

// ValidateAndConsume verifies a presented token and atomically consumes it.
// All failure modes surface as distinct sentinel errors for the audit trail;
// callers present a uniform error to the end user.
func (s *TokenService) ValidateAndConsume(ctx context.Context, userID, rawToken, ip, userAgent string) (*domain.LoginToken, error) {
	if s.tokens == nil || s.hasher == nil {
		return nil, ErrLoginUnavailable
	}

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		s.auditTokenFailure(ctx, userID, ip, userAgent, "empty token")
		return nil, ErrTokenNotFound
	}

	token, err := s.tokens.GetByHash(ctx, s.hasher.Hash(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditTokenFailure(ctx, userID, ip, userAgent, "token hash not found")
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("lookup login token: %w", err)
	}

	if userID != "" && token.UserID != userID {
		s.recordAttempt(ctx, token.ID)
		s.auditTokenFailure(ctx, userID, ip, userAgent, "token user mismatch")
		return nil, ErrTokenNotFound
	}

	// Hash lookup already matched; re-compare in constant time before trusting it.
	if !s.hasher.Matches(rawToken, token.TokenHash) {
		s.recordAttempt(ctx, token.ID)
		s.auditTokenFailure(ctx, token.UserID, ip, userAgent, "token hash mismatch")
		return nil, ErrTokenNotFound
	}

	now := s.now().UTC()

	// Expiry wins over every other state: a used or revoked token that has
	// also aged out reports expired.
	switch {
	case token.IsExpired(now):
		s.recordAttempt(ctx, token.ID)
		s.auditTokenFailure(ctx, token.UserID, ip, userAgent, "token expired")
		return nil, ErrTokenExpired
	case token.IsRevoked():
		s.recordAttempt(ctx, token.ID)
		s.auditTokenFailure(ctx, token.UserID, ip, userAgent, "token revoked")
		return nil, ErrTokenRevoked
	case token.IsUsed():
		s.recordAttempt(ctx, token.ID)
		s.auditTokenFailure(ctx, token.UserID, ip, userAgent, "token already used")
		return nil, ErrTokenAlreadyUsed
	}

	if err := s.tokens.Consume(ctx, token.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race against a concurrent consumer.
			s.auditTokenFailure(ctx, token.UserID, ip, userAgent, "token consumed concurrently")
			return nil, ErrTokenAlreadyUsed
		}
		return nil, fmt.Errorf("consume login token: %w", err)
	}

	token.Consume(now)

	s.audit(ctx, domain.AuditTokenValidated, domain.AuditOutcomeSuccess, "token consumed", token.UserID, ip, userAgent, map[string]any{
		"token_id": token.ID,
	})

	return token, nil
}

// PurgeForUser removes every remaining token for a user after a completed login.
func (s *TokenService) PurgeForUser(ctx context.Context, userID string) {
	if s.tokens == nil {
		return
	}
	if _, err := s.tokens.DeleteForUser(ctx, userID); err != nil {
		s.logger.Warn("purge login tokens failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *TokenService) recordAttempt(ctx context.Context, tokenID string) {
	if _, err := s.tokens.IncrementAttempts(ctx, tokenID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("increment token attempts failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

func (s *TokenService) auditTokenFailure(ctx context.Context, userID, ip, userAgent, reason string) {
	s.audit(ctx, domain.AuditTokenRejected, domain.AuditOutcomeFailure, reason, userID, ip, userAgent, nil)
}

func (s *TokenService) audit(ctx context.Context, event domain.AuditEventKind, outcome domain.AuditOutcome, reason, userID, ip, userAgent string, metadata map[string]any) {
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

func (s *TokenService) enforceIssueRateLimit(ctx context.Context, email, ip string, now time.Time) error {
	if s.rateLimits == nil || s.cfg == nil {
		return nil
	}

	limit := s.cfg.RateLimit.LoginRequestMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := s.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	for _, identifier := range []string{strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(ip)} {
		if identifier == "" {
			continue
		}

		key := fmt.Sprintf("%s:%s", loginRequestRate, identifier)

		if err := s.rateLimits.TrimWindow(ctx, key, window, now); err != nil {
			s.logger.Warn("login rate limit trim failed", zap.Error(err))
			continue
		}

		count, err := s.rateLimits.CountAttempts(ctx, key, window, now)
		if err != nil {
			s.logger.Warn("login rate limit count failed", zap.Error(err))
			continue
		}

		if count >= limit {
			retryAfter := time.Duration(0)
			if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, key, window, now); err == nil && ok {
				if reset := oldest.Add(window); reset.After(now) {
					retryAfter = reset.Sub(now)
				}
			}
			return &RateLimitExceededError{Scope: loginRequestRate, RetryAfter: retryAfter}
		}

		if err := s.rateLimits.RecordAttempt(ctx, key, now); err != nil {
			s.logger.Warn("login rate limit record failed", zap.Error(err))
		}
	}

	return nil
}

func (s *TokenService) buildLoginURL(userID, rawToken, redirectURL string) string {
	base := "http://localhost:8080"
	if s.cfg != nil && s.cfg.Auth.BaseURL != "" {
		base = strings.TrimRight(s.cfg.Auth.BaseURL, "/")
	}

	query := url.Values{}
	query.Set("uid", userID)
	query.Set("token", rawToken)
	if trimmed := strings.TrimSpace(redirectURL); trimmed != "" {
		query.Set("redirect_url", trimmed)
	}

	return fmt.Sprintf("%s/api/v1/login/complete?%s", base, query.Encode())
}

func loginEmailBody(displayName, loginURL string, ttl time.Duration) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "there"
	}

	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}

	return fmt.Sprintf(
		`<p>Hi %s,</p>
<p>Click the link below to sign in. The link is valid for %d minutes and can be used once.</p>
<p><a href="%s">Sign in</a></p>
<p>If you did not request this email you can safely ignore it.</p>`,
		name, minutes, loginURL,
	)
}
