package models

import "time"

// Invitation states.
const (
	InvitationPending  = "pending"
	InvitationSent     = "sent"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationCanceled = "canceled"
	InvitationExpired  = "expired"
)

// GroupInvitation invites an existing user or an email address into a group.
// Email invitations carry no InvitedUserID until the address registers.
type GroupInvitation struct {
	BaseModel

	GroupID       string     `gorm:"type:uuid;not null;index" json:"group_id"`
	InvitedBy     string     `gorm:"type:uuid;not null" json:"invited_by"`
	InvitedUserID *string    `gorm:"type:uuid;index" json:"invited_user_id"`
	InvitedEmail  string     `gorm:"not null;index" json:"invited_email"`
	Message       string     `json:"message"`
	TokenHash     string     `gorm:"uniqueIndex;not null" json:"-"`
	Status        string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	ExpiresAt     time.Time  `gorm:"index" json:"expires_at"`
	EmailSentAt   *time.Time `json:"email_sent_at"`
	RespondedAt   *time.Time `json:"responded_at"`
}

// IsOpen reports whether the invitation can still be answered at now.
func (i *GroupInvitation) IsOpen(now time.Time) bool {
	if i == nil {
		return false
	}
	if i.Status != InvitationPending && i.Status != InvitationSent {
		return false
	}
	return i.ExpiresAt.After(now)
}
