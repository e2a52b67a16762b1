package domain

import "time"

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Roles        []string
	Status       UserStatus
	RegisteredAt time.Time
	LastLogin    *time.Time
}

// IsActive reports whether the account may authenticate.
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// HasAnyRole reports whether the user holds at least one of the given roles.
func (u User) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	for _, candidate := range roles {
		for _, assigned := range u.Roles {
			if assigned == candidate {
				return true
			}
		}
	}
	return false
}
