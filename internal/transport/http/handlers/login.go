package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumenauth/magiclink-service/internal/transport/http/middleware"
	"github.com/lumenauth/magiclink-service/internal/usecase"
)

const (
	loginRateLimitProblemType  = "https://auth.lumenauth.example.com/errors/rate-limit-exceeded"
	loginRateLimitProblemTitle = "Rate Limit Exceeded"

	// loginRequestAck is returned for every magic-link request, whether or not
	// the address belongs to an account, so accounts cannot be enumerated.
	loginRequestAck = "If the address belongs to an account, a sign-in link is on its way."
)

// LoginHandler exposes the passwordless login endpoints.
type LoginHandler struct {
	tokens   *usecase.TokenService
	login    *usecase.LoginService
	tokenTTL time.Duration
	devMode  bool
}

// LoginHandlerOption configures optional LoginHandler behaviour.
type LoginHandlerOption func(*LoginHandler)

// WithLoginDevMode toggles development-only behaviour (e.g. returning the login URL).
func WithLoginDevMode(devMode bool) LoginHandlerOption {
	return func(h *LoginHandler) {
		h.devMode = devMode
	}
}

// NewLoginHandler constructs LoginHandler.
func NewLoginHandler(tokens *usecase.TokenService, login *usecase.LoginService, tokenTTL time.Duration, opts ...LoginHandlerOption) *LoginHandler {
	handler := &LoginHandler{
		tokens:   tokens,
		login:    login,
		tokenTTL: tokenTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds login routes, applying optional middleware ahead of handlers.
func (h *LoginHandler) RegisterRoutes(r *gin.RouterGroup, requestMiddlewares, verifyMiddlewares []gin.HandlerFunc) {
	requestChain := append([]gin.HandlerFunc{}, requestMiddlewares...)
	requestChain = append(requestChain, h.requestLink)
	r.POST("/request", requestChain...)

	r.GET("/complete", h.complete)

	verifyChain := append([]gin.HandlerFunc{}, verifyMiddlewares...)
	verifyChain = append(verifyChain, h.verifyTwoFactor)
	r.POST("/verify-2fa", verifyChain...)
}

// RequestLink godoc
// @Summary Request a magic sign-in link
// @Description Emails a single-use sign-in link to the supplied address. The response is identical whether or not the address belongs to an account.
// @Tags Login
// @Accept json
// @Produce json
// @Param request body LoginRequestPayload true "Login link request"
// @Success 202 {object} LoginRequestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Failure 502 {object} ErrorResponse "Email delivery failed"
// @Router /api/v1/login/request [post]
func (h *LoginHandler) requestLink(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "login service unavailable"))
		return
	}

	var req LoginRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	input := usecase.IssueInput{
		Email:       strings.TrimSpace(req.Email),
		RedirectURL: strings.TrimSpace(req.RedirectURL),
		IP:          strings.TrimSpace(c.ClientIP()),
		UserAgent:   strings.TrimSpace(c.Request.UserAgent()),
	}

	result, err := h.tokens.RequestByEmail(c.Request.Context(), input)
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		switch {
		case errors.As(err, &rateErr):
			respondRateLimitExceeded(c, rateErr)
			return
		case errors.Is(err, usecase.ErrMailSendFailure):
			c.JSON(http.StatusBadGateway, NewErrorResponse(c, "failed to send login email"))
			return
		case errors.Is(err, usecase.ErrUserNotFound), errors.Is(err, usecase.ErrUserInactive):
			// Fall through to the uniform acknowledgement.
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to process login request"))
			return
		}
	}

	response := LoginRequestResponse{
		Message:   loginRequestAck,
		ExpiresIn: int(h.tokenTTL.Seconds()),
	}

	if h.devMode && result != nil && result.LoginURL != "" {
		loginURL := result.LoginURL
		response.DevLoginURL = &loginURL
	}

	c.JSON(http.StatusAccepted, response)
}

// Complete godoc
// @Summary Complete a magic-link login
// @Description Consumes the presented token and either establishes a session, starts a two-factor challenge, or redirects to enrollment.
// @Tags Login
// @Produce json
// @Param uid query string true "User identifier from the login link"
// @Param token query string true "Single-use login token"
// @Param redirect_url query string false "Post-login redirect target"
// @Success 200 {object} LoginCompleteResponse
// @Failure 401 {object} ErrorResponse "Link invalid or expired"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/login/complete [get]
func (h *LoginHandler) complete(c *gin.Context) {
	if h.login == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "login service unavailable"))
		return
	}

	input := usecase.CompleteInput{
		UserID:      strings.TrimSpace(c.Query("uid")),
		Token:       strings.TrimSpace(c.Query("token")),
		RedirectURL: strings.TrimSpace(c.Query("redirect_url")),
		IP:          strings.TrimSpace(c.ClientIP()),
		UserAgent:   strings.TrimSpace(c.Request.UserAgent()),
	}

	result, err := h.login.Complete(c.Request.Context(), input)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrLoginLinkInvalid, Status: http.StatusUnauthorized, Message: "login link is invalid or has expired"},
			{Err: usecase.ErrLoginUnavailable, Status: http.StatusServiceUnavailable, Message: "login service unavailable"},
		}, http.StatusInternalServerError, "failed to complete login")
		return
	}

	summary := newUserSummary(result.User)

	c.JSON(http.StatusOK, LoginCompleteResponse{
		Status:      string(result.Status),
		SessionID:   result.SessionID,
		Reference:   result.Reference,
		RedirectURL: result.RedirectURL,
		User:        &summary,
	})
}

// VerifyTwoFactor godoc
// @Summary Verify a two-factor code for a pending login
// @Description Accepts a 6-digit TOTP code or an 8-character backup code against a pending-login reference and establishes the session on success.
// @Tags Login
// @Accept json
// @Produce json
// @Param request body TwoFactorVerifyRequest true "Verification payload"
// @Success 200 {object} TwoFactorVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Code invalid or pending login expired"
// @Failure 423 {object} LockedResponse "Verification locked"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/login/verify-2fa [post]
func (h *LoginHandler) verifyTwoFactor(c *gin.Context) {
	if h.login == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "login service unavailable"))
		return
	}

	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "reference and code are required"))
		return
	}

	input := usecase.VerifyInput{
		Reference: strings.TrimSpace(req.Reference),
		Code:      strings.TrimSpace(req.Code),
		IP:        strings.TrimSpace(c.ClientIP()),
		UserAgent: strings.TrimSpace(c.Request.UserAgent()),
	}

	result, err := h.login.VerifyTwoFactor(c.Request.Context(), input)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPendingLoginExpired, Status: http.StatusUnauthorized, Message: "pending login expired, request a new link"},
			{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusUnauthorized, Message: "verification code invalid"},
			{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "two-factor is not enrolled"},
			{Err: usecase.ErrLoginUnavailable, Status: http.StatusServiceUnavailable, Message: "login service unavailable"},
		}, http.StatusInternalServerError, "failed to verify code")
		return
	}

	summary := newUserSummary(result.User)

	c.JSON(http.StatusOK, TwoFactorVerifyResponse{
		SessionID:   result.SessionID,
		RedirectURL: result.RedirectURL,
		User:        &summary,
	})
}

func respondRateLimitExceeded(c *gin.Context, rateErr *usecase.RateLimitExceededError) {
	retryAfter := int(rateErr.RetryAfter / time.Second)
	if rateErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	detail := "Too many login requests. Try again later."
	if rateErr.RetryAfter > 0 {
		detail = fmt.Sprintf("Too many login requests. Try again in %d seconds.", retryAfter)
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := middleware.ProblemDetails{
		Type:       loginRateLimitProblemType,
		Title:      loginRateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	}

	c.JSON(http.StatusTooManyRequests, problem)
}
