package domain

import "time"

// LoginToken represents a single-use magic-link token (stored as a keyed hash).
type LoginToken struct {
	ID                string
	UserID            string
	TokenHash         string
	IP                *string
	UserAgent         *string
	DeviceFingerprint *string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	UsedAt            *time.Time
	RevokedAt         *time.Time
	AttemptCount      int
	Metadata          map[string]any
}

// IsExpired reports whether the token has elapsed its validity window.
func (t LoginToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsUsed reports whether the token was already consumed.
func (t LoginToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t LoginToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for login.
func (t LoginToken) IsActive(at time.Time) bool {
	if t.IsUsed() || t.IsRevoked() {
		return false
	}
	return !t.IsExpired(at)
}

// Consume marks the token as used.
// Returns true when the token transitions from unused to used.
func (t *LoginToken) Consume(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// Revoke marks the token as revoked.
func (t *LoginToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}

// PendingLogin correlates a consumed magic-link token with an in-flight
// two-factor verification. It is ephemeral state with a short TTL.
type PendingLogin struct {
	Reference   string
	UserID      string
	RedirectURL string
	IP          *string
	UserAgent   *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the pending login can still be completed.
func (p PendingLogin) IsExpired(at time.Time) bool {
	return !p.ExpiresAt.After(at)
}
