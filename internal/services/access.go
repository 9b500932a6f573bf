package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
)

func loadGroup(ctx context.Context, db *gorm.DB, groupID string) (*models.Group, error) {
	var group models.Group
	err := db.WithContext(ctx).Take(&group, "id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	return &group, nil
}

// loadMembership returns nil without error when the user is not a member.
func loadMembership(ctx context.Context, db *gorm.DB, groupID, userID string) (*models.GroupMembership, error) {
	var membership models.GroupMembership
	err := db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &membership, nil
}

func requireGroupMember(ctx context.Context, db *gorm.DB, groupID, userID string) (*models.Group, *models.GroupMembership, error) {
	group, err := loadGroup(ctx, db, groupID)
	if err != nil {
		return nil, nil, err
	}
	membership, err := loadMembership(ctx, db, groupID, userID)
	if err != nil {
		return nil, nil, err
	}
	if membership == nil {
		return nil, nil, ErrAccessDenied.WithMessage("You are not a member of this group")
	}
	return group, membership, nil
}

func requireGroupAdmin(ctx context.Context, db *gorm.DB, groupID, userID string) (*models.Group, *models.GroupMembership, error) {
	group, membership, err := requireGroupMember(ctx, db, groupID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !membership.IsAdmin() {
		return nil, nil, ErrAccessDenied.WithMessage("Only group admins can do this")
	}
	return group, membership, nil
}

// loadProjectForMember hides projects from users outside the owning group.
func loadProjectForMember(ctx context.Context, db *gorm.DB, projectID, userID string) (*models.Project, *models.GroupMembership, error) {
	var project models.Project
	err := db.WithContext(ctx).Take(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrProjectNotFoundOrAccessDenied
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load project: %w", err)
	}

	membership, err := loadMembership(ctx, db, project.GroupID, userID)
	if err != nil {
		return nil, nil, err
	}
	if membership == nil {
		return nil, nil, ErrProjectNotFoundOrAccessDenied
	}
	return &project, membership, nil
}

type memberRow struct {
	GroupID        string
	UserID         string
	Role           string
	JoinedAt       time.Time
	Username       string
	Email          string
	ProfilePicture string
}

func listGroupMembers(ctx context.Context, db *gorm.DB, groupID string) ([]MemberDTO, error) {
	var rows []memberRow
	if err := db.WithContext(ctx).
		Table("group_memberships AS gm").
		Select("gm.group_id, gm.user_id, gm.role, gm.joined_at, u.username, u.email, u.profile_picture").
		Joins("JOIN users u ON u.id = gm.user_id").
		Where("gm.group_id = ?", groupID).
		Order("gm.joined_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	members := make([]MemberDTO, 0, len(rows))
	for _, row := range rows {
		members = append(members, MemberDTO{
			UserID:         row.UserID,
			Username:       row.Username,
			Email:          row.Email,
			ProfilePicture: row.ProfilePicture,
			Role:           row.Role,
			JoinedAt:       row.JoinedAt,
		})
	}
	return members, nil
}

func countGroupMembers(ctx context.Context, db *gorm.DB, groupIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(groupIDs))
	if len(groupIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		GroupID string
		Total   int64
	}
	if err := db.WithContext(ctx).
		Model(&models.GroupMembership{}).
		Select("group_id, COUNT(*) AS total").
		Where("group_id IN ?", groupIDs).
		Group("group_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count group members: %w", err)
	}
	for _, row := range rows {
		counts[row.GroupID] = row.Total
	}
	return counts, nil
}
