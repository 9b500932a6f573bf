package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/logger"
)

// StoredObject identifies bytes held by the storage backend.
type StoredObject struct {
	Bucket string
	Key    string
}

// ObjectRemover deletes stored bytes after their metadata rows are gone.
type ObjectRemover interface {
	RemoveObjects(ctx context.Context, objects []StoredObject)
}

func removeObjects(ctx context.Context, remover ObjectRemover, objects []StoredObject) {
	if remover == nil || len(objects) == 0 {
		return
	}
	remover.RemoveObjects(ctx, objects)
}

// deleteProjectRows removes projects and every child row inside tx and returns
// the stored objects that must be cleaned afterwards.
func deleteProjectRows(tx *gorm.DB, projectIDs []string) ([]StoredObject, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	var files []models.ProjectFile
	if err := tx.Where("project_id IN ?", projectIDs).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("load project files: %w", err)
	}
	objects := make([]StoredObject, 0, len(files))
	for _, file := range files {
		objects = append(objects, StoredObject{Bucket: file.Bucket, Key: file.StoragePath})
	}

	children := []any{&models.ProjectFile{}, &models.ChecklistItem{}, &models.ProjectMember{}}
	for _, child := range children {
		if err := tx.Where("project_id IN ?", projectIDs).Delete(child).Error; err != nil {
			return nil, fmt.Errorf("delete project children: %w", err)
		}
	}
	if err := tx.Where("id IN ?", projectIDs).Delete(&models.Project{}).Error; err != nil {
		return nil, fmt.Errorf("delete projects: %w", err)
	}
	return objects, nil
}

// deleteGroupRows removes a group, its projects and all membership data inside tx.
func deleteGroupRows(tx *gorm.DB, groupID string) ([]StoredObject, error) {
	var projectIDs []string
	if err := tx.Model(&models.Project{}).Where("group_id = ?", groupID).Pluck("id", &projectIDs).Error; err != nil {
		return nil, fmt.Errorf("load group projects: %w", err)
	}

	objects, err := deleteProjectRows(tx, projectIDs)
	if err != nil {
		return nil, err
	}

	children := []any{
		&models.GroupDefaultChecklistItem{},
		&models.GroupJoinRequest{},
		&models.GroupInvitation{},
		&models.GroupMembership{},
	}
	for _, child := range children {
		if err := tx.Where("group_id = ?", groupID).Delete(child).Error; err != nil {
			return nil, fmt.Errorf("delete group children: %w", err)
		}
	}

	result := tx.Where("id = ?", groupID).Delete(&models.Group{})
	if result.Error != nil {
		return nil, fmt.Errorf("delete group: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrGroupNotFound
	}
	return objects, nil
}

// removeUserFromGroupProjects drops a user's project memberships inside a group.
func removeUserFromGroupProjects(tx *gorm.DB, groupID, userID string) error {
	sub := tx.Model(&models.Project{}).Select("id").Where("group_id = ?", groupID)
	if err := tx.Where("user_id = ? AND project_id IN (?)", userID, sub).
		Delete(&models.ProjectMember{}).Error; err != nil {
		return fmt.Errorf("remove project memberships: %w", err)
	}
	return nil
}

func logCleanupFailure(module, message string, err error, fields ...zap.Field) {
	logger.WithModule(module).Warn(message, append(fields, zap.Error(err))...)
}

// reassignProjects hands each project in owners to its new creator and makes sure
// the new creator holds an admin project membership.
func reassignProjects(tx *gorm.DB, owners map[string]string, addedBy string) error {
	for projectID, ownerID := range owners {
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Update("created_by", ownerID).Error; err != nil {
			return fmt.Errorf("reassign project: %w", err)
		}

		var existing models.ProjectMember
		err := tx.Where("project_id = ? AND user_id = ?", projectID, ownerID).Take(&existing).Error
		switch {
		case err == nil:
			if existing.Role != models.RoleAdmin {
				if err := tx.Model(&existing).Update("role", models.RoleAdmin).Error; err != nil {
					return fmt.Errorf("promote project owner: %w", err)
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			member := &models.ProjectMember{
				ProjectID: projectID,
				UserID:    ownerID,
				Role:      models.RoleAdmin,
				AddedBy:   strPtr(addedBy),
			}
			if err := tx.Create(member).Error; err != nil {
				return fmt.Errorf("add project owner: %w", err)
			}
		default:
			return fmt.Errorf("load project owner: %w", err)
		}
	}
	return nil
}

// projectsCreatedIn lists ids of the projects userID created inside groupID.
func projectsCreatedIn(tx *gorm.DB, groupID, userID string) ([]string, error) {
	var ids []string
	if err := tx.Model(&models.Project{}).
		Where("group_id = ? AND created_by = ?", groupID, userID).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load created projects: %w", err)
	}
	return ids, nil
}
