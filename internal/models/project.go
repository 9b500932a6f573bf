package models

import "strings"

// Project priorities.
const (
	PriorityLow       = "low"
	PriorityMedium    = "medium"
	PriorityHigh      = "high"
	PriorityUrgent    = "urgent"
	PriorityCompleted = "completed"
)

// Project statuses.
const (
	ProjectStatusPlanning   = "planning"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusOnHold     = "on_hold"
)

// Project is a unit of work inside a group.
type Project struct {
	BaseModel

	GroupID     string `gorm:"type:uuid;not null;index" json:"group_id"`
	Name        string `gorm:"not null;size:200" json:"name"`
	Description string `json:"description"`
	Priority    string `gorm:"size:16;not null;default:medium" json:"priority"`
	Status      string `gorm:"size:16;not null;default:planning" json:"status"`
	Notes       string `json:"notes"`
	CreatedBy   string `gorm:"type:uuid;not null;index" json:"created_by"`
}

// PriorityRank orders priorities for listing. Unknown values rank as medium.
func PriorityRank(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// ProjectMember links a user to a project.
type ProjectMember struct {
	BaseModel

	ProjectID string  `gorm:"type:uuid;not null;uniqueIndex:idx_project_members_pair" json:"project_id"`
	UserID    string  `gorm:"type:uuid;not null;uniqueIndex:idx_project_members_pair;index" json:"user_id"`
	Role      string  `gorm:"size:16;not null;default:member" json:"role"`
	AddedBy   *string `gorm:"type:uuid" json:"added_by"`
}

// ChecklistItem is a task on a project's checklist.
type ChecklistItem struct {
	BaseModel

	ProjectID   string  `gorm:"type:uuid;not null;index" json:"project_id"`
	Title       string  `gorm:"not null" json:"title"`
	Description *string `json:"description"`
	Completed   bool    `gorm:"default:false" json:"completed"`
	CreatedBy   string  `gorm:"type:uuid" json:"created_by"`
}

// ProjectFile is the metadata row for a stored project attachment.
type ProjectFile struct {
	BaseModel

	ProjectID    string `gorm:"type:uuid;not null;index" json:"project_id"`
	Filename     string `gorm:"not null" json:"filename"`
	OriginalName string `gorm:"not null" json:"original_name"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	Bucket       string `gorm:"not null" json:"bucket"`
	StoragePath  string `gorm:"not null;uniqueIndex" json:"storage_path"`
	UploadedBy   string `gorm:"type:uuid;index" json:"uploaded_by"`
}
