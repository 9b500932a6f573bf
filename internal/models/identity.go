package models

import "time"

// Identity holds credentials and verification state for an account.
// The public profile lives in User and shares the same ID.
type Identity struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	EmailVerifiedAt   *time.Time `json:"email_verified_at"`
	PasswordChangedAt *time.Time `json:"password_changed_at"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// IsVerified reports whether the email address has been confirmed.
func (i *Identity) IsVerified() bool {
	return i != nil && i.EmailVerifiedAt != nil
}

// IsLocked reports whether the identity is locked out at the provided instant.
func (i *Identity) IsLocked(now time.Time) bool {
	return i != nil && i.LockedUntil != nil && i.LockedUntil.After(now)
}
