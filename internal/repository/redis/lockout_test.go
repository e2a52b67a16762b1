package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestLockoutRepository_IncrementFailures(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	ctx := context.Background()
	ttl := time.Hour

	count, err := repo.IncrementFailures(ctx, "user-1", ttl)
	if err != nil {
		t.Fatalf("IncrementFailures returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	count, err = repo.IncrementFailures(ctx, "user-1", ttl)
	if err != nil {
		t.Fatalf("IncrementFailures returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	remaining := server.TTL("lockout:fails:user-1")
	if remaining <= 0 || remaining > ttl {
		t.Fatalf("expected ttl within (0, %v], got %v", ttl, remaining)
	}

	got, err := repo.FailureCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("FailureCount returned error: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected failure count 2, got %d", got)
	}
}

func TestLockoutRepository_FailureCountMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	count, err := repo.FailureCount(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FailureCount returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero for missing counter, got %d", count)
	}
}

func TestLockoutRepository_LockedUntilRoundTrip(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	ctx := context.Background()
	until := time.Now().UTC().Add(10 * time.Minute)

	if err := repo.SetLockedUntil(ctx, "user-1", until); err != nil {
		t.Fatalf("SetLockedUntil returned error: %v", err)
	}

	got, err := repo.LockedUntil(ctx, "user-1")
	if err != nil {
		t.Fatalf("LockedUntil returned error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected deadline, got nil")
	}
	if got.Unix() != until.Unix() {
		t.Fatalf("expected deadline %v, got %v", until.Unix(), got.Unix())
	}

	// The lock key expires with the lock itself.
	server.FastForward(11 * time.Minute)

	got, err = repo.LockedUntil(ctx, "user-1")
	if err != nil {
		t.Fatalf("LockedUntil returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired lock to read as absent, got %v", got)
	}
}

func TestLockoutRepository_SetLockedUntilRejectsPast(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	if err := repo.SetLockedUntil(context.Background(), "user-1", time.Now().Add(-time.Minute)); err == nil {
		t.Fatalf("expected error for past deadline")
	}
}

func TestLockoutRepository_Clear(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	ctx := context.Background()

	if _, err := repo.IncrementFailures(ctx, "user-1", time.Hour); err != nil {
		t.Fatalf("IncrementFailures returned error: %v", err)
	}
	if err := repo.SetLockedUntil(ctx, "user-1", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("SetLockedUntil returned error: %v", err)
	}

	if err := repo.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	count, err := repo.FailureCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("FailureCount returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected counter to be cleared, got %d", count)
	}

	until, err := repo.LockedUntil(ctx, "user-1")
	if err != nil {
		t.Fatalf("LockedUntil returned error: %v", err)
	}
	if until != nil {
		t.Fatalf("expected lock to be cleared, got %v", until)
	}
}

func TestLockoutRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewLockoutRepository(client, "lockout")

	ctx := context.Background()

	if _, err := repo.IncrementFailures(ctx, "", time.Hour); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if err := repo.SetLockedUntil(ctx, "", time.Now().Add(time.Minute)); err == nil {
		t.Fatalf("expected error for empty user id in SetLockedUntil")
	}
	if err := repo.Clear(ctx, ""); err == nil {
		t.Fatalf("expected error for empty user id in Clear")
	}
}
