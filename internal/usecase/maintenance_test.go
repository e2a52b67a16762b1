package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

func TestMaintenanceSweepRemovesExpiredTokens(t *testing.T) {
	tokens := newTokenRepoMock()
	svc := NewMaintenanceService(tokens, time.Minute, zap.NewNop())

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })

	expired := domain.LoginToken{ID: "tok-1", UserID: "user-1", TokenHash: "h1", ExpiresAt: now.Add(-time.Minute)}
	live := domain.LoginToken{ID: "tok-2", UserID: "user-1", TokenHash: "h2", ExpiresAt: now.Add(time.Minute)}

	if err := tokens.Create(context.Background(), expired); err != nil {
		t.Fatalf("seed expired token: %v", err)
	}
	if err := tokens.Create(context.Background(), live); err != nil {
		t.Fatalf("seed live token: %v", err)
	}

	deleted, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted token, got %d", deleted)
	}

	if _, err := tokens.GetByHash(context.Background(), "h2"); err != nil {
		t.Fatalf("expected live token to survive: %v", err)
	}
}

func TestMaintenanceSweepWithoutRepository(t *testing.T) {
	svc := NewMaintenanceService(nil, time.Minute, zap.NewNop())

	deleted, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected no-op sweep, got %d", deleted)
	}
}
