package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeSessionProvider struct {
	sessions map[string]string
	err      error
}

func (f *fakeSessionProvider) EstablishSession(_ context.Context, userID string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeSessionProvider) CurrentUser(_ context.Context, sessionID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if userID, ok := f.sessions[sessionID]; ok {
		return userID, nil
	}
	return "", errors.New("session not found")
}

func sessionTestRouter(provider *fakeSessionProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequireSession(provider))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})

	return router
}

func TestRequireSessionBearerToken(t *testing.T) {
	router := sessionTestRouter(&fakeSessionProvider{sessions: map[string]string{"sess-1": "user-1"}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer sess-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireSessionCookie(t *testing.T) {
	router := sessionTestRouter(&fakeSessionProvider{sessions: map[string]string{"sess-1": "user-1"}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireSessionMissingCredentials(t *testing.T) {
	router := sessionTestRouter(&fakeSessionProvider{sessions: map[string]string{}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireSessionUnknownSession(t *testing.T) {
	router := sessionTestRouter(&fakeSessionProvider{sessions: map[string]string{}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer stale-session")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
