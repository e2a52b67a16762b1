package domain

import "time"

// TwoFactorSettings mirrors the persisted per-user TOTP configuration.
type TwoFactorSettings struct {
	UserID        string
	TOTPSecret    string
	TOTPEnabled   bool
	ConfirmedAt   *time.Time
	RequiredSince *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasConfirmedTOTP reports whether the user completed TOTP enrollment.
func (s TwoFactorSettings) HasConfirmedTOTP() bool {
	return s.TOTPEnabled && s.ConfirmedAt != nil
}

// BackupCode stores a single one-time recovery code (as an argon2id hash).
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}

// IsUsed reports whether the backup code was already consumed.
func (c BackupCode) IsUsed() bool {
	return c.UsedAt != nil
}

// GracePolicy describes the window during which a user whose role requires
// two-factor authentication may still log in without it configured.
type GracePolicy struct {
	GraceDays int
}

// Expired reports whether the grace window elapsed for a requirement first
// detected at requiredSince. A nil requiredSince means the requirement was
// never recorded, so the grace window has not started.
func (p GracePolicy) Expired(requiredSince *time.Time, at time.Time) bool {
	if requiredSince == nil {
		return false
	}
	deadline := requiredSince.Add(time.Duration(p.GraceDays) * 24 * time.Hour)
	return at.After(deadline)
}

// LockoutState summarizes the failed-attempt counter for a user.
type LockoutState struct {
	UserID         string
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the lockout window is still in effect.
func (s LockoutState) Locked(at time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(at)
}

// Remaining returns the lockout time left, or zero when unlocked.
func (s LockoutState) Remaining(at time.Time) time.Duration {
	if !s.Locked(at) {
		return 0
	}
	return s.LockedUntil.Sub(at)
}
