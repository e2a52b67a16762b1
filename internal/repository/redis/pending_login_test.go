package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

func testPendingLogin(reference, userID string) domain.PendingLogin {
	now := time.Now().UTC().Truncate(time.Second)
	ip := "203.0.113.7"
	ua := "test-agent"

	return domain.PendingLogin{
		Reference:   reference,
		UserID:      userID,
		RedirectURL: "/after",
		IP:          &ip,
		UserAgent:   &ua,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
}

func TestPendingLoginRepository_StoreAndFetch(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	ctx := context.Background()
	pending := testPendingLogin("ref-1", "user-1")

	if err := repo.Store(ctx, pending, 5*time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	got, err := repo.Fetch(ctx, "ref-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got.UserID != pending.UserID {
		t.Fatalf("expected user %s, got %s", pending.UserID, got.UserID)
	}
	if got.RedirectURL != pending.RedirectURL {
		t.Fatalf("expected redirect %q, got %q", pending.RedirectURL, got.RedirectURL)
	}
	if got.IP == nil || *got.IP != *pending.IP {
		t.Fatalf("expected ip to round-trip")
	}
	if got.UserAgent == nil || *got.UserAgent != *pending.UserAgent {
		t.Fatalf("expected user agent to round-trip")
	}
	if !got.ExpiresAt.Equal(pending.ExpiresAt) {
		t.Fatalf("expected expires_at %v, got %v", pending.ExpiresAt, got.ExpiresAt)
	}
}

func TestPendingLoginRepository_FetchMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	if _, err := repo.Fetch(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingLoginRepository_DeleteIsSingleUse(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	ctx := context.Background()

	if err := repo.Store(ctx, testPendingLogin("ref-1", "user-1"), 5*time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if err := repo.Delete(ctx, "ref-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := repo.Delete(ctx, "ref-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPendingLoginRepository_DeleteForUser(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	ctx := context.Background()

	if err := repo.Store(ctx, testPendingLogin("ref-1", "user-1"), 5*time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := repo.Store(ctx, testPendingLogin("ref-2", "user-1"), 5*time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := repo.Store(ctx, testPendingLogin("ref-3", "user-2"), 5*time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if err := repo.DeleteForUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteForUser returned error: %v", err)
	}

	if _, err := repo.Fetch(ctx, "ref-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ref-1 to be gone, got %v", err)
	}
	if _, err := repo.Fetch(ctx, "ref-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ref-2 to be gone, got %v", err)
	}

	// Other users keep their entries.
	if _, err := repo.Fetch(ctx, "ref-3"); err != nil {
		t.Fatalf("expected ref-3 to survive, got %v", err)
	}
}

func TestPendingLoginRepository_EntryExpires(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	ctx := context.Background()

	if err := repo.Store(ctx, testPendingLogin("ref-1", "user-1"), time.Minute); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	server.FastForward(2 * time.Minute)

	if _, err := repo.Fetch(ctx, "ref-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected expired entry to be gone, got %v", err)
	}
}

func TestPendingLoginRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPendingLoginRepository(client, "pending_login")

	ctx := context.Background()

	if err := repo.Store(ctx, domain.PendingLogin{UserID: "user-1"}, time.Minute); err == nil {
		t.Fatalf("expected error for empty reference")
	}
	if err := repo.Store(ctx, domain.PendingLogin{Reference: "ref-1"}, time.Minute); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if err := repo.Store(ctx, testPendingLogin("ref-1", "user-1"), 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
	if _, err := repo.Fetch(ctx, ""); err == nil {
		t.Fatalf("expected error for empty reference in Fetch")
	}
	if err := repo.DeleteForUser(ctx, ""); err == nil {
		t.Fatalf("expected error for empty user id in DeleteForUser")
	}
}
