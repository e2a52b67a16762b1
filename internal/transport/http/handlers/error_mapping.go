package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumenauth/magiclink-service/internal/transport/http/middleware"
	"github.com/lumenauth/magiclink-service/internal/usecase"
)

// ErrorCase pairs a login-flow sentinel with the status and message an
// endpoint returns for it. Token failures share one deliberately vague
// message; the precise rejection reason lives only in the audit log.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError writes the response for a usecase error. Lockout
// errors short-circuit to 423 with a Retry-After header regardless of the
// supplied cases; every other error is resolved against the cases in order,
// falling back to the generic status when no sentinel matches.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var lockedErr *usecase.TwoFactorLockedError
	if errors.As(err, &lockedErr) {
		respondTwoFactorLocked(c, lockedErr)
		return
	}

	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondTwoFactorLocked(c *gin.Context, lockedErr *usecase.TwoFactorLockedError) {
	retryAfter := int(lockedErr.RetryAfter / time.Second)
	if lockedErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusLocked, LockedResponse{
		Error:      "too many failed attempts, verification is temporarily locked",
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	})
}
