package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumenauth/magiclink-service/internal/transport/http/middleware"
	"github.com/lumenauth/magiclink-service/internal/usecase"
)

// TwoFactorHandler exposes self-service TOTP management endpoints. All routes
// require an authenticated session.
type TwoFactorHandler struct {
	twofactor *usecase.TwoFactorService
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twofactor *usecase.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twofactor: twofactor}
}

// RegisterRoutes binds two-factor management routes.
func (h *TwoFactorHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.status)
	r.POST("/enroll", h.enroll)
	r.POST("/confirm", h.confirm)
	r.POST("/disable", h.disable)
}

// Status godoc
// @Summary Two-factor status for the current user
// @Description Returns whether TOTP is enabled along with enrollment timestamps.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} TwoFactorStatusResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/2fa [get]
func (h *TwoFactorHandler) status(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	settings, err := h.twofactor.Settings(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load two-factor settings"))
		return
	}

	response := TwoFactorStatusResponse{}
	if settings != nil {
		response.Enabled = settings.HasConfirmedTOTP()
		response.ConfirmedAt = settings.ConfirmedAt
		response.LastUsedAt = settings.LastUsedAt
		response.RequiredSince = settings.RequiredSince
	}

	c.JSON(http.StatusOK, response)
}

// Enroll godoc
// @Summary Begin TOTP enrollment
// @Description Generates a fresh TOTP secret and provisioning URI. Repeating the call before confirmation replaces the secret.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} EnrollmentResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Already enabled"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/2fa/enroll [post]
func (h *TwoFactorHandler) enroll(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	result, err := h.twofactor.BeginEnrollment(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor is already enabled"},
			{Err: usecase.ErrTwoFactorUnavailable, Status: http.StatusServiceUnavailable, Message: "two-factor service unavailable"},
		}, http.StatusInternalServerError, "failed to start enrollment")
		return
	}

	c.JSON(http.StatusOK, EnrollmentResponse{
		Secret:          result.Secret,
		ProvisioningURI: result.ProvisioningURI,
	})
}

// Confirm godoc
// @Summary Confirm TOTP enrollment
// @Description Verifies the first code from the authenticator, enables TOTP, and returns the one-time backup codes.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body EnrollmentConfirmRequest true "Confirmation payload"
// @Success 200 {object} EnrollmentConfirmResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Code invalid"
// @Failure 409 {object} ErrorResponse "Already enabled or enrollment not started"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/2fa/confirm [post]
func (h *TwoFactorHandler) confirm(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req EnrollmentConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	backupCodes, err := h.twofactor.ConfirmEnrollment(c.Request.Context(), userID, strings.TrimSpace(req.Code))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusUnauthorized, Message: "verification code invalid"},
			{Err: usecase.ErrEnrollmentNotStarted, Status: http.StatusConflict, Message: "enrollment has not been started"},
			{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor is already enabled"},
			{Err: usecase.ErrTwoFactorUnavailable, Status: http.StatusServiceUnavailable, Message: "two-factor service unavailable"},
		}, http.StatusInternalServerError, "failed to confirm enrollment")
		return
	}

	c.JSON(http.StatusOK, EnrollmentConfirmResponse{
		BackupCodes: backupCodes,
		Message:     "store these backup codes safely, they will not be shown again",
	})
}

// Disable godoc
// @Summary Disable two-factor authentication
// @Description Verifies the supplied code when TOTP is enabled, then removes the secret, backup codes, and lockout state.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body EnrollmentConfirmRequest false "Current TOTP code, required while enabled"
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse "Code invalid"
// @Failure 423 {object} LockedResponse "Verification locked"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/2fa/disable [post]
func (h *TwoFactorHandler) disable(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req EnrollmentConfirmRequest
	_ = c.ShouldBindJSON(&req)

	settings, err := h.twofactor.Settings(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load two-factor settings"))
		return
	}

	// Disabling an active factor requires proving possession of it.
	if settings != nil && settings.HasConfirmedTOTP() {
		code := strings.TrimSpace(req.Code)
		if code == "" {
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "current verification code is required"))
			return
		}

		if err := h.twofactor.VerifyCode(c.Request.Context(), userID, code); err != nil {
			RespondWithMappedError(c, err, []ErrorCase{
				{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusUnauthorized, Message: "verification code invalid"},
				{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "two-factor is not enrolled"},
			}, http.StatusInternalServerError, "failed to verify code")
			return
		}
	}

	if err := h.twofactor.Disable(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to disable two-factor"))
		return
	}

	c.Status(http.StatusNoContent)
}
