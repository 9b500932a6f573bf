package models

import (
	"strings"
	"time"
)

// DefaultAvatarScheme prefixes profile pictures that reference a bundled avatar.
const DefaultAvatarScheme = "default://"

// DefaultAvatars lists the bundled avatar identifiers a profile may select.
var DefaultAvatars = []string{"penguin-cool", "camel-boss", "raccoon-sneaky"}

// User is the public profile row tied 1:1 to an Identity.
type User struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	Username       string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	Bio            string    `gorm:"size:500" json:"bio"`
	ProfilePicture string    `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultAvatarRef returns the sentinel stored for a bundled avatar.
func DefaultAvatarRef(id string) string {
	return DefaultAvatarScheme + id
}

// IsDefaultAvatar reports whether value references a known bundled avatar.
func IsDefaultAvatar(value string) bool {
	if !strings.HasPrefix(value, DefaultAvatarScheme) {
		return false
	}
	id := strings.TrimPrefix(value, DefaultAvatarScheme)
	for _, candidate := range DefaultAvatars {
		if candidate == id {
			return true
		}
	}
	return false
}
