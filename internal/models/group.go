package models

import "time"

// Group roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Group is a research team. Every group keeps at least one admin membership.
type Group struct {
	BaseModel

	Name        string `gorm:"not null;size:120" json:"name"`
	Description string `json:"description"`
	InviteCode  string `gorm:"uniqueIndex;size:16;not null" json:"invite_code"`
	CreatedBy   string `gorm:"type:uuid;not null;index" json:"created_by"`
}

// TableName avoids the GROUPS keyword reserved by MySQL.
func (Group) TableName() string {
	return "research_groups"
}

// GroupMembership links a user to a group with a role.
type GroupMembership struct {
	BaseModel

	GroupID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_group_memberships_pair" json:"group_id"`
	UserID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_group_memberships_pair;index" json:"user_id"`
	Role     string    `gorm:"size:16;not null;default:member" json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// IsAdmin reports whether the membership grants administrative rights.
func (m *GroupMembership) IsAdmin() bool {
	return m != nil && m.Role == RoleAdmin
}

// Join request states.
const (
	JoinRequestPending  = "pending"
	JoinRequestApproved = "approved"
	JoinRequestRejected = "rejected"
)

// GroupJoinRequest records a user's request to join a group.
type GroupJoinRequest struct {
	BaseModel

	GroupID     string     `gorm:"type:uuid;not null;index:idx_join_requests_lookup" json:"group_id"`
	UserID      string     `gorm:"type:uuid;not null;index:idx_join_requests_lookup" json:"user_id"`
	Status      string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	Message     string     `json:"message"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at"`
	RespondedBy *string    `gorm:"type:uuid" json:"responded_by"`
}

// GroupDefaultChecklistItem is a template row offered when creating projects.
type GroupDefaultChecklistItem struct {
	BaseModel

	GroupID      string  `gorm:"type:uuid;not null;index" json:"group_id"`
	Title        string  `gorm:"not null" json:"title"`
	Description  *string `json:"description"`
	DisplayOrder int     `gorm:"default:0" json:"display_order"`
}
