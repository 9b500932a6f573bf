package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
)

// Models lists every persistent model in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Identity{},
		&models.User{},
		&models.Session{},
		&models.EmailVerification{},
		&models.PasswordResetToken{},
		&models.Group{},
		&models.GroupMembership{},
		&models.GroupJoinRequest{},
		&models.GroupInvitation{},
		&models.GroupDefaultChecklistItem{},
		&models.Project{},
		&models.ProjectMember{},
		&models.ChecklistItem{},
		&models.ProjectFile{},
		&models.AuditLog{},
		&models.AccountDeletionLog{},
		&models.CacheEntry{},
	}
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
