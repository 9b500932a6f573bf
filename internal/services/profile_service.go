package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/storage"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

// UpdateProfileInput describes mutable profile fields. Nil fields are left unchanged.
type UpdateProfileInput struct {
	Bio            *string
	ProfilePicture *string
}

// AvatarDTO is a bundled avatar choice.
type AvatarDTO struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
}

// UserStats summarises a user's activity.
type UserStats struct {
	TotalGroups        int64 `json:"total_groups"`
	TotalProjects      int64 `json:"total_projects"`
	CompletedProjects  int64 `json:"completed_projects"`
	TotalTasks         int64 `json:"total_tasks"`
	CompletedTasks     int64 `json:"completed_tasks"`
	UncompletedTasks   int64 `json:"uncompleted_tasks"`
	AdminGroups        int64 `json:"admin_groups"`
	ProjectsCreated    int64 `json:"projects_created"`
	FilesUploaded      int64 `json:"files_uploaded"`
	PendingInvitations int64 `json:"pending_invitations"`
}

// ProfileService manages user profiles and avatars.
type ProfileService struct {
	db           *gorm.DB
	auditService *AuditService
	files        *FileService
	identities   IdentityInvalidator
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB, auditService *AuditService, files *FileService, identities IdentityInvalidator) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	return &ProfileService{
		db:           db,
		auditService: auditService,
		files:        files,
		identities:   invalidatorOrNoop(identities),
	}, nil
}

// GetProfile returns the caller's own profile.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*UserDTO, error) {
	ctx = ensureContext(ctx)

	user, verified, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*user, verified)
	return &dto, nil
}

// GetPublicProfile returns another user's public profile.
func (s *ProfileService) GetPublicProfile(ctx context.Context, userID string) (*PublicUserDTO, error) {
	ctx = ensureContext(ctx)

	user, _, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toPublicUserDTO(*user)
	return &dto, nil
}

// UpdateProfile changes bio and/or profile picture. Pictures must be a bundled
// avatar reference or a URL issued by the avatar upload.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*UserDTO, error) {
	ctx = ensureContext(ctx)

	user, verified, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Bio != nil {
		updates["bio"] = cleanText(*input.Bio, maxBioLength)
	}
	if input.ProfilePicture != nil {
		picture := strings.TrimSpace(*input.ProfilePicture)
		if !s.acceptablePicture(userID, picture) {
			return nil, apperrors.NewBadRequest("profile picture must be a default avatar or an uploaded image")
		}
		updates["profile_picture"] = picture
	}

	if len(updates) == 0 {
		dto := toUserDTO(*user, verified)
		return &dto, nil
	}

	previous := user.ProfilePicture
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("profile service: update profile: %w", err)
	}
	s.identities.Invalidate(ctx, userID)

	if picture, ok := updates["profile_picture"].(string); ok && picture != previous {
		s.removeUploadedAvatar(ctx, userID, previous)
	}

	return s.GetProfile(ctx, userID)
}

// UploadAvatar stores an uploaded image and makes it the profile picture.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID string, upload Upload) (*UserDTO, error) {
	ctx = ensureContext(ctx)
	if s.files == nil {
		return nil, ErrStorageOperationFailed
	}

	if _, _, err := s.load(ctx, userID); err != nil {
		return nil, err
	}

	url, err := s.files.UploadProfilePicture(ctx, userID, upload)
	if err != nil {
		return nil, err
	}

	dto, err := s.UpdateProfile(ctx, userID, UpdateProfileInput{ProfilePicture: &url})
	if err != nil {
		if key, ok := s.files.ProfileObjectKey(userID, url); ok {
			s.files.RemoveObjects(ctx, []StoredObject{{Bucket: storage.BucketProfilePictures, Key: key}})
		}
		return nil, err
	}
	return dto, nil
}

// ListDefaultAvatars returns the bundled avatar choices.
func (s *ProfileService) ListDefaultAvatars() []AvatarDTO {
	out := make([]AvatarDTO, 0, len(models.DefaultAvatars))
	for _, id := range models.DefaultAvatars {
		out = append(out, AvatarDTO{ID: id, Ref: models.DefaultAvatarRef(id)})
	}
	return out
}

// Stats counts the user's groups, projects and checklist progress. Projects count
// when the user created them or is a project member.
func (s *ProfileService) Stats(ctx context.Context, userID string) (*UserStats, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	if _, _, err := s.load(ctx, userID); err != nil {
		return nil, err
	}

	var stats UserStats
	if err := db.Model(&models.GroupMembership{}).Where("user_id = ?", userID).Count(&stats.TotalGroups).Error; err != nil {
		return nil, fmt.Errorf("profile service: count groups: %w", err)
	}
	if err := db.Model(&models.GroupMembership{}).Where("user_id = ? AND role = ?", userID, models.RoleAdmin).Count(&stats.AdminGroups).Error; err != nil {
		return nil, fmt.Errorf("profile service: count admin groups: %w", err)
	}

	memberOf := db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", userID)
	projects := func() *gorm.DB {
		return db.Model(&models.Project{}).Where("created_by = ? OR id IN (?)", userID, memberOf)
	}

	if err := projects().Count(&stats.TotalProjects).Error; err != nil {
		return nil, fmt.Errorf("profile service: count projects: %w", err)
	}
	if err := projects().
		Where("priority = ? OR status = ?", models.PriorityCompleted, models.ProjectStatusCompleted).
		Count(&stats.CompletedProjects).Error; err != nil {
		return nil, fmt.Errorf("profile service: count completed projects: %w", err)
	}
	if err := db.Model(&models.Project{}).Where("created_by = ?", userID).Count(&stats.ProjectsCreated).Error; err != nil {
		return nil, fmt.Errorf("profile service: count created projects: %w", err)
	}

	projectIDs := projects().Select("id")
	if err := db.Model(&models.ChecklistItem{}).Where("project_id IN (?)", projectIDs).Count(&stats.TotalTasks).Error; err != nil {
		return nil, fmt.Errorf("profile service: count tasks: %w", err)
	}
	if err := db.Model(&models.ChecklistItem{}).
		Where("project_id IN (?) AND completed = ?", projects().Select("id"), true).
		Count(&stats.CompletedTasks).Error; err != nil {
		return nil, fmt.Errorf("profile service: count completed tasks: %w", err)
	}
	stats.UncompletedTasks = stats.TotalTasks - stats.CompletedTasks

	if err := db.Model(&models.ProjectFile{}).Where("uploaded_by = ?", userID).Count(&stats.FilesUploaded).Error; err != nil {
		return nil, fmt.Errorf("profile service: count files: %w", err)
	}
	if err := db.Model(&models.GroupInvitation{}).
		Where("invited_user_id = ? AND status IN ?", userID, []string{models.InvitationPending, models.InvitationSent}).
		Count(&stats.PendingInvitations).Error; err != nil {
		return nil, fmt.Errorf("profile service: count invitations: %w", err)
	}

	return &stats, nil
}

func (s *ProfileService) load(ctx context.Context, userID string) (*models.User, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrUserNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("profile service: load user: %w", err)
	}

	var identity models.Identity
	if err := s.db.WithContext(ctx).Select("id", "email_verified_at").Take(&identity, "id = ?", userID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("profile service: load identity: %w", err)
	}
	return &user, identity.IsVerified(), nil
}

func (s *ProfileService) acceptablePicture(userID, picture string) bool {
	if models.IsDefaultAvatar(picture) {
		return true
	}
	if s.files == nil {
		return false
	}
	_, ok := s.files.ProfileObjectKey(userID, picture)
	return ok
}

func (s *ProfileService) removeUploadedAvatar(ctx context.Context, userID, picture string) {
	if s.files == nil {
		return
	}
	if key, ok := s.files.ProfileObjectKey(userID, picture); ok {
		s.files.RemoveObjects(ctx, []StoredObject{{Bucket: storage.BucketProfilePictures, Key: key}})
	}
}
