package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name,omitempty"`
	Status      domain.UserStatus `json:"status"`
	Roles       []string          `json:"roles,omitempty"`
}

func newUserSummary(user *domain.User) UserSummary {
	if user == nil {
		return UserSummary{}
	}

	return UserSummary{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Status:      user.Status,
		Roles:       user.Roles,
	}
}

// LoginRequestPayload defines the payload for requesting a magic link.
type LoginRequestPayload struct {
	Email       string `json:"email" binding:"required"`
	RedirectURL string `json:"redirect_url"`
}

// LoginRequestResponse acknowledges a magic-link request without revealing
// whether the address belongs to an account.
type LoginRequestResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in_seconds"`
	// DevLoginURL is populated only in development mode.
	DevLoginURL *string `json:"dev_login_url,omitempty"`
}

// LoginCompleteResponse describes the outcome of consuming a magic link.
type LoginCompleteResponse struct {
	Status      string       `json:"status"`
	SessionID   string       `json:"session_id,omitempty"`
	Reference   string       `json:"reference,omitempty"`
	RedirectURL string       `json:"redirect_url"`
	User        *UserSummary `json:"user,omitempty"`
}

// TwoFactorVerifyRequest carries a TOTP or backup code for a pending login.
type TwoFactorVerifyRequest struct {
	Reference string `json:"reference" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// TwoFactorVerifyResponse describes a completed two-factor login.
type TwoFactorVerifyResponse struct {
	SessionID   string       `json:"session_id"`
	RedirectURL string       `json:"redirect_url"`
	User        *UserSummary `json:"user,omitempty"`
}

// LockedResponse reports an active lockout with its remaining duration.
type LockedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds"`
	TraceID    string `json:"trace_id,omitempty"`
}

// EnrollmentResponse carries the secret material shown exactly once during
// TOTP enrollment.
type EnrollmentResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// EnrollmentConfirmRequest carries the first TOTP code proving the
// authenticator was provisioned.
type EnrollmentConfirmRequest struct {
	Code string `json:"code" binding:"required"`
}

// EnrollmentConfirmResponse returns the one-time backup codes. They are never
// recoverable afterwards.
type EnrollmentConfirmResponse struct {
	BackupCodes []string `json:"backup_codes"`
	Message     string   `json:"message"`
}

// TwoFactorStatusResponse summarises the caller's two-factor state.
type TwoFactorStatusResponse struct {
	Enabled       bool       `json:"enabled"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RequiredSince *time.Time `json:"required_since,omitempty"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse describes the readiness payload including per-dependency checks.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
