package services

import (
	"time"

	"github.com/macroscope/macroscope/internal/models"
)

// UserDTO is the caller's own profile.
type UserDTO struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Bio            string    `json:"bio"`
	ProfilePicture string    `json:"profile_picture"`
	EmailVerified  bool      `json:"email_verified"`
	CreatedAt      time.Time `json:"created_at"`
}

// PublicUserDTO is the profile shown to other users.
type PublicUserDTO struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Bio            string    `json:"bio"`
	ProfilePicture string    `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberDTO is the canonical group member shape.
type MemberDTO struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profile_picture"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

// GroupDTO describes a group with its member count and, when known, the caller's role.
type GroupDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	InviteCode  string    `json:"invite_code"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int64     `json:"member_count"`
	Role        string    `json:"role,omitempty"`
}

// GroupDetailsDTO is returned to group members.
type GroupDetailsDTO struct {
	Group           GroupDTO         `json:"group"`
	Members         []MemberDTO      `json:"members"`
	MyRole          string           `json:"my_role"`
	IsCreator       bool             `json:"is_creator"`
	PendingRequests []JoinRequestDTO `json:"pending_requests,omitempty"`
}

// JoinRequestDTO describes a join request with the requester's public details.
type JoinRequestDTO struct {
	ID             string     `json:"id"`
	GroupID        string     `json:"group_id"`
	GroupName      string     `json:"group_name"`
	UserID         string     `json:"user_id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	ProfilePicture string     `json:"profile_picture"`
	Status         string     `json:"status"`
	Message        string     `json:"message,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

// DefaultChecklistItemDTO is a group checklist template row.
type DefaultChecklistItemDTO struct {
	ID           string  `json:"id"`
	GroupID      string  `json:"group_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	DisplayOrder int     `json:"display_order"`
}

// ProjectDTO is the canonical project shape.
type ProjectDTO struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectSummaryDTO annotates a project for list views.
type ProjectSummaryDTO struct {
	ProjectDTO
	MemberCount        int64    `json:"member_count"`
	FileCount          int64    `json:"file_count"`
	ChecklistTotal     int64    `json:"checklist_total"`
	ChecklistCompleted int64    `json:"checklist_completed"`
	AssignedMembers    []string `json:"assigned_members"`
}

// ProjectMemberDTO is a member of a project.
type ProjectMemberDTO struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profile_picture"`
	Role           string    `json:"role"`
	AddedBy        *string   `json:"added_by,omitempty"`
	AddedAt        time.Time `json:"added_at"`
}

// ChecklistItemDTO is a project checklist entry.
type ChecklistItemDTO struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileDTO describes a stored project file.
type FileDTO struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	FileSize     int64     `json:"file_size"`
	MimeType     string    `json:"mime_type"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// ProjectDetailsDTO bundles a project with its members, checklist and files.
type ProjectDetailsDTO struct {
	Project   ProjectDTO         `json:"project"`
	GroupName string             `json:"group_name"`
	Members   []ProjectMemberDTO `json:"members"`
	Checklist []ChecklistItemDTO `json:"checklist"`
	Files     []FileDTO          `json:"files"`
	IsCreator bool               `json:"is_creator"`
}

// InvitationDTO describes a group invitation.
type InvitationDTO struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	GroupName     string    `json:"group_name"`
	InvitedBy     string    `json:"invited_by"`
	InviterName   string    `json:"inviter_name"`
	InvitedEmail  string    `json:"invited_email"`
	InvitedUserID *string   `json:"invited_user_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserDTO(user models.User, verified bool) UserDTO {
	return UserDTO{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		Bio:            user.Bio,
		ProfilePicture: user.ProfilePicture,
		EmailVerified:  verified,
		CreatedAt:      user.CreatedAt,
	}
}

func toPublicUserDTO(user models.User) PublicUserDTO {
	return PublicUserDTO{
		ID:             user.ID,
		Username:       user.Username,
		Bio:            user.Bio,
		ProfilePicture: user.ProfilePicture,
		CreatedAt:      user.CreatedAt,
	}
}

func toGroupDTO(group models.Group, memberCount int64, role string) GroupDTO {
	return GroupDTO{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		InviteCode:  group.InviteCode,
		CreatedBy:   group.CreatedBy,
		CreatedAt:   group.CreatedAt,
		MemberCount: memberCount,
		Role:        role,
	}
}

func toProjectDTO(project models.Project) ProjectDTO {
	return ProjectDTO{
		ID:          project.ID,
		GroupID:     project.GroupID,
		Name:        project.Name,
		Description: project.Description,
		Priority:    project.Priority,
		Status:      project.Status,
		Notes:       project.Notes,
		CreatedBy:   project.CreatedBy,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

func toChecklistItemDTO(item models.ChecklistItem) ChecklistItemDTO {
	return ChecklistItemDTO{
		ID:          item.ID,
		ProjectID:   item.ProjectID,
		Title:       item.Title,
		Description: item.Description,
		Completed:   item.Completed,
		CreatedBy:   item.CreatedBy,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func toFileDTO(file models.ProjectFile) FileDTO {
	return FileDTO{
		ID:           file.ID,
		ProjectID:    file.ProjectID,
		Filename:     file.Filename,
		OriginalName: file.OriginalName,
		FileSize:     file.FileSize,
		MimeType:     file.MimeType,
		UploadedBy:   file.UploadedBy,
		UploadedAt:   file.CreatedAt,
	}
}

func toDefaultChecklistItemDTO(item models.GroupDefaultChecklistItem) DefaultChecklistItemDTO {
	return DefaultChecklistItemDTO{
		ID:           item.ID,
		GroupID:      item.GroupID,
		Title:        item.Title,
		Description:  item.Description,
		DisplayOrder: item.DisplayOrder,
	}
}
