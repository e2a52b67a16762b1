package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLockoutGuardLocksAtThreshold(t *testing.T) {
	store := newLockoutStoreMock()
	guard := NewLockoutGuard(store, 3, 10*time.Minute, zap.NewNop())

	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	guard.WithClock(func() time.Time { return frozen })

	fired := 0
	guard.OnLockout(func() { fired++ })

	for i := 1; i <= 2; i++ {
		state, err := guard.RecordFailure(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if state.FailedAttempts != i {
			t.Fatalf("expected %d failed attempts, got %d", i, state.FailedAttempts)
		}
		if state.LockedUntil != nil {
			t.Fatalf("expected no lock before the threshold")
		}
	}

	state, err := guard.RecordFailure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("threshold failure: %v", err)
	}
	if state.LockedUntil == nil {
		t.Fatalf("expected lock at threshold")
	}
	if want := frozen.Add(10 * time.Minute); !state.LockedUntil.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, *state.LockedUntil)
	}
	if fired != 1 {
		t.Fatalf("expected lockout callback once, fired %d times", fired)
	}

	remaining, err := guard.Remaining(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 10*time.Minute {
		t.Fatalf("expected 10m remaining, got %v", remaining)
	}
}

func TestLockoutGuardExpiredLockReadsZero(t *testing.T) {
	store := newLockoutStoreMock()
	guard := NewLockoutGuard(store, 1, 5*time.Minute, zap.NewNop())

	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	guard.WithClock(func() time.Time { return frozen })

	if _, err := guard.RecordFailure(context.Background(), "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	guard.WithClock(func() time.Time { return frozen.Add(6 * time.Minute) })

	remaining, err := guard.Remaining(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected expired lock to read zero, got %v", remaining)
	}
}

func TestLockoutGuardSuccessClearsState(t *testing.T) {
	store := newLockoutStoreMock()
	guard := NewLockoutGuard(store, 2, 5*time.Minute, zap.NewNop())

	if _, err := guard.RecordFailure(context.Background(), "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := guard.RecordSuccess(context.Background(), "user-1"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	// The counter restarts from zero after a success.
	state, err := guard.RecordFailure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if state.FailedAttempts != 1 {
		t.Fatalf("expected counter to restart at 1, got %d", state.FailedAttempts)
	}
	if state.LockedUntil != nil {
		t.Fatalf("expected no lock after reset")
	}
}

func TestLockoutGuardTracksUsersIndependently(t *testing.T) {
	store := newLockoutStoreMock()
	guard := NewLockoutGuard(store, 1, 5*time.Minute, zap.NewNop())

	if _, err := guard.RecordFailure(context.Background(), "user-1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	remaining, err := guard.Remaining(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected user-2 to be unlocked, got %v", remaining)
	}
}
