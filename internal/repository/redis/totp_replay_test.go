package redis

import (
	"context"
	"testing"
	"time"
)

func TestReplayGuardRepository_RecordAndRead(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewReplayGuardRepository(client, "totp_step")

	ctx := context.Background()
	ttl := time.Minute

	if err := repo.RecordAcceptedStep(ctx, "user-1", 56789, ttl); err != nil {
		t.Fatalf("RecordAcceptedStep returned error: %v", err)
	}

	step, err := repo.LastAcceptedStep(ctx, "user-1")
	if err != nil {
		t.Fatalf("LastAcceptedStep returned error: %v", err)
	}
	if step != 56789 {
		t.Fatalf("expected step 56789, got %d", step)
	}

	remaining := server.TTL("totp_step:user-1")
	if remaining <= 0 || remaining > ttl {
		t.Fatalf("expected ttl within (0, %v], got %v", ttl, remaining)
	}

	// A newer step overwrites the old one.
	if err := repo.RecordAcceptedStep(ctx, "user-1", 56790, ttl); err != nil {
		t.Fatalf("RecordAcceptedStep returned error: %v", err)
	}
	step, err = repo.LastAcceptedStep(ctx, "user-1")
	if err != nil {
		t.Fatalf("LastAcceptedStep returned error: %v", err)
	}
	if step != 56790 {
		t.Fatalf("expected step 56790, got %d", step)
	}
}

func TestReplayGuardRepository_MissReadsNegative(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewReplayGuardRepository(client, "totp_step")

	step, err := repo.LastAcceptedStep(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LastAcceptedStep returned error: %v", err)
	}
	if step != -1 {
		t.Fatalf("expected -1 for missing step, got %d", step)
	}
}

func TestReplayGuardRepository_StepExpires(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewReplayGuardRepository(client, "totp_step")

	ctx := context.Background()

	if err := repo.RecordAcceptedStep(ctx, "user-1", 100, time.Minute); err != nil {
		t.Fatalf("RecordAcceptedStep returned error: %v", err)
	}

	server.FastForward(2 * time.Minute)

	step, err := repo.LastAcceptedStep(ctx, "user-1")
	if err != nil {
		t.Fatalf("LastAcceptedStep returned error: %v", err)
	}
	if step != -1 {
		t.Fatalf("expected expired step to read as -1, got %d", step)
	}
}

func TestReplayGuardRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewReplayGuardRepository(client, "totp_step")

	ctx := context.Background()

	if err := repo.RecordAcceptedStep(ctx, "", 1, time.Minute); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if err := repo.RecordAcceptedStep(ctx, "user-1", 1, 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}
