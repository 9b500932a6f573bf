package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/storage"
	"github.com/macroscope/macroscope/pkg/logger"
	"github.com/macroscope/macroscope/pkg/metrics"
)

// Outcome of a per-group deletion step.
const (
	StepTransferred = "transferred"
	StepDeleted     = "deleted"
	StepLeft        = "left"
)

// Account deletion results recorded in logs and metrics.
const (
	DeletionSuccess  = "success"
	DeletionPartial  = "partial"
	DeletionRejected = "rejected"
)

// AccountGroup describes one of the departing user's groups.
type AccountGroup struct {
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	Role        string `json:"role"`
	MemberCount int64  `json:"member_count"`
	IsCreator   bool   `json:"is_creator"`
	// EligibleSuccessors is only filled for admin groups.
	EligibleSuccessors []MemberDTO `json:"eligible_successors,omitempty"`
}

// CreatedProject is a project the departing user created.
type CreatedProject struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	MemberCount int64  `json:"member_count"`
}

// DeletionAnalysis partitions the user's groups by what account deletion does to them.
type DeletionAnalysis struct {
	SoloGroups           []AccountGroup   `json:"solo_groups"`
	AdminGroups          []AccountGroup   `json:"admin_groups"`
	MemberGroups         []AccountGroup   `json:"member_groups"`
	ProjectsCreated      []CreatedProject `json:"projects_created"`
	CanDeleteImmediately bool             `json:"can_delete_immediately"`
}

// TransferMapping names the successor admin for an admin group.
type TransferMapping struct {
	GroupID    string `json:"group_id"`
	NewAdminID string `json:"new_admin_id"`
}

// DeleteAccountInput carries the caller's choices for admin groups. Admin groups
// without a mapping are deleted. When TransferGroups is set every listed group
// must have a mapping.
type DeleteAccountInput struct {
	Mappings       []TransferMapping
	TransferGroups []string
}

// GroupStep reports what happened to one group.
type GroupStep struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	Action    string `json:"action"`
	Error     string `json:"error,omitempty"`
}

// DeletionReport is returned by DeleteAccount, including on partial failure.
type DeletionReport struct {
	UserID          string      `json:"user_id"`
	Steps           []GroupStep `json:"steps"`
	FilesRemoved    int         `json:"files_removed"`
	IdentityDeleted bool        `json:"identity_deleted"`
	Result          string      `json:"result"`
}

// SessionRevoker revokes every session of a user.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)
}

// AccountServiceDeps lists the collaborators of AccountService.
type AccountServiceDeps struct {
	Sessions   SessionRevoker
	Identities IdentityInvalidator
	Files      *FileService
}

// AccountService analyses and executes account deletion.
type AccountService struct {
	db           *gorm.DB
	auditService *AuditService
	sessions     SessionRevoker
	identities   IdentityInvalidator
	files        *FileService
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB, auditService *AuditService, deps AccountServiceDeps) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	return &AccountService{
		db:           db,
		auditService: auditService,
		sessions:     deps.Sessions,
		identities:   invalidatorOrNoop(deps.Identities),
		files:        deps.Files,
	}, nil
}

// AnalyzeDeletion partitions the user's groups into solo, admin and member groups
// and lists the projects the user created.
func (s *AccountService) AnalyzeDeletion(ctx context.Context, userID string) (*DeletionAnalysis, error) {
	ctx = ensureContext(ctx)

	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	var rows []struct {
		GroupID   string
		GroupName string
		CreatedBy string
		Role      string
	}
	if err := s.db.WithContext(ctx).
		Table("group_memberships AS gm").
		Select("gm.group_id, g.name AS group_name, g.created_by, gm.role").
		Joins("JOIN research_groups g ON g.id = gm.group_id").
		Where("gm.user_id = ?", userID).
		Order("gm.joined_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("account service: load memberships: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.GroupID)
	}
	counts, err := countGroupMembers(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}

	analysis := &DeletionAnalysis{
		SoloGroups:      []AccountGroup{},
		AdminGroups:     []AccountGroup{},
		MemberGroups:    []AccountGroup{},
		ProjectsCreated: []CreatedProject{},
	}
	for _, row := range rows {
		group := AccountGroup{
			GroupID:     row.GroupID,
			GroupName:   row.GroupName,
			Role:        row.Role,
			MemberCount: counts[row.GroupID],
			IsCreator:   row.CreatedBy == userID,
		}
		switch {
		case group.MemberCount <= 1:
			analysis.SoloGroups = append(analysis.SoloGroups, group)
		case row.Role == models.RoleAdmin:
			members, err := listGroupMembers(ctx, s.db, row.GroupID)
			if err != nil {
				return nil, fmt.Errorf("account service: %w", err)
			}
			group.EligibleSuccessors = []MemberDTO{}
			for _, member := range members {
				if member.UserID != userID {
					group.EligibleSuccessors = append(group.EligibleSuccessors, member)
				}
			}
			analysis.AdminGroups = append(analysis.AdminGroups, group)
		default:
			analysis.MemberGroups = append(analysis.MemberGroups, group)
		}
	}

	var projects []struct {
		ProjectID   string
		Name        string
		GroupID     string
		GroupName   string
		MemberCount int64
	}
	if err := s.db.WithContext(ctx).
		Table("projects AS p").
		Select("p.id AS project_id, p.name, p.group_id, g.name AS group_name, (SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = p.id) AS member_count").
		Joins("JOIN research_groups g ON g.id = p.group_id").
		Where("p.created_by = ?", userID).
		Order("p.created_at DESC").
		Scan(&projects).Error; err != nil {
		return nil, fmt.Errorf("account service: load created projects: %w", err)
	}
	for _, project := range projects {
		analysis.ProjectsCreated = append(analysis.ProjectsCreated, CreatedProject(project))
	}

	analysis.CanDeleteImmediately = len(analysis.AdminGroups) == 0
	return analysis, nil
}

// DeleteAccount removes the user after handling every group. Transfer mappings are
// validated before any write. Each group is processed in its own transaction and
// failures are collected; the identity is only removed when every group succeeded.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string, input DeleteAccountInput) (*DeletionReport, error) {
	ctx = ensureContext(ctx)
	log := logger.WithModule("account")

	analysis, err := s.AnalyzeDeletion(ctx, userID)
	if err != nil {
		return nil, err
	}

	transfers, err := validateTransferMappings(analysis, userID, input)
	if err != nil {
		metrics.AccountDeletions.WithLabelValues(DeletionRejected).Inc()
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("account service: load user: %w", err)
	}

	report := &DeletionReport{UserID: userID, Steps: []GroupStep{}}
	var objects []StoredObject
	var errs error

	run := func(group AccountGroup, action string, step func(tx *gorm.DB) ([]StoredObject, error)) {
		result := GroupStep{GroupID: group.GroupID, GroupName: group.GroupName, Action: action}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			removed, err := step(tx)
			if err != nil {
				return err
			}
			objects = append(objects, removed...)
			return nil
		})
		if err != nil {
			result.Error = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("group %s: %w", group.GroupID, err))
			log.Warn("account deletion step failed",
				zap.String("user_id", userID),
				zap.String("group_id", group.GroupID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
		report.Steps = append(report.Steps, result)
	}

	for _, group := range analysis.AdminGroups {
		if newAdmin, ok := transfers[group.GroupID]; ok {
			run(group, StepTransferred, func(tx *gorm.DB) ([]StoredObject, error) {
				return nil, s.transferAndLeave(ctx, tx, group.GroupID, userID, newAdmin)
			})
			continue
		}
		run(group, StepDeleted, func(tx *gorm.DB) ([]StoredObject, error) {
			return deleteGroupRows(tx, group.GroupID)
		})
	}
	for _, group := range analysis.SoloGroups {
		run(group, StepDeleted, func(tx *gorm.DB) ([]StoredObject, error) {
			return deleteGroupRows(tx, group.GroupID)
		})
	}
	for _, group := range analysis.MemberGroups {
		run(group, StepLeft, func(tx *gorm.DB) ([]StoredObject, error) {
			return nil, s.leaveAsMember(ctx, tx, group.GroupID, userID)
		})
	}

	if s.files != nil {
		removeObjects(ctx, s.files, objects)
	}
	report.FilesRemoved = len(objects)

	if errs != nil {
		report.Result = DeletionPartial
		s.finish(ctx, &user, report, errs)
		return report, ErrAccountDeletionIncomplete.WithInternal(errs)
	}

	if s.sessions != nil {
		if _, err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
			log.Warn("revoke sessions during account deletion failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	// Rows in groups whose step failed stay untouched until every step succeeds.
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.detachUser(tx, userID); err != nil {
			return err
		}
		return deleteIdentityRows(tx, userID)
	}); err != nil {
		report.Result = DeletionPartial
		s.finish(ctx, &user, report, err)
		return report, ErrAccountDeletionIncomplete.WithInternal(err)
	}
	report.IdentityDeleted = true
	report.Result = DeletionSuccess

	s.identities.Invalidate(ctx, userID)
	if s.files != nil {
		if key, ok := s.files.ProfileObjectKey(userID, user.ProfilePicture); ok {
			s.files.RemoveObjects(ctx, []StoredObject{{Bucket: storage.BucketProfilePictures, Key: key}})
		}
	}

	s.finish(ctx, &user, report, nil)
	return report, nil
}

func validateTransferMappings(analysis *DeletionAnalysis, userID string, input DeleteAccountInput) (map[string]string, error) {
	adminGroups := make(map[string]AccountGroup, len(analysis.AdminGroups))
	for _, group := range analysis.AdminGroups {
		adminGroups[group.GroupID] = group
	}

	transfers := make(map[string]string, len(input.Mappings))
	for _, mapping := range input.Mappings {
		groupID := strings.TrimSpace(mapping.GroupID)
		newAdmin := strings.TrimSpace(mapping.NewAdminID)

		group, ok := adminGroups[groupID]
		if !ok {
			return nil, ErrIncompleteTransferMapping.WithMessage("A transfer names a group you do not administer with other members")
		}
		if _, dup := transfers[groupID]; dup {
			return nil, ErrIncompleteTransferMapping.WithMessage("Each group can only be transferred once")
		}
		if newAdmin == "" || newAdmin == userID || !hasMember(group.EligibleSuccessors, newAdmin) {
			return nil, ErrIncompleteTransferMapping.WithMessage(fmt.Sprintf("Choose a current member of %s as the new admin", group.GroupName))
		}
		transfers[groupID] = newAdmin
	}

	for _, groupID := range normaliseIDs(input.TransferGroups) {
		if _, ok := adminGroups[groupID]; !ok {
			return nil, ErrIncompleteTransferMapping.WithMessage("A transfer names a group you do not administer with other members")
		}
		if _, ok := transfers[groupID]; !ok {
			return nil, ErrIncompleteTransferMapping.WithMessage(fmt.Sprintf("Choose a new admin for %s", adminGroups[groupID].GroupName))
		}
	}
	return transfers, nil
}

func hasMember(members []MemberDTO, userID string) bool {
	for _, member := range members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

// transferAndLeave promotes the successor, makes them the creator when the departing
// user created the group, hands over the user's projects and drops the user's memberships.
func (s *AccountService) transferAndLeave(ctx context.Context, tx *gorm.DB, groupID, userID, newAdminID string) error {
	group, err := loadGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}
	target, err := loadMembership(ctx, tx, groupID, newAdminID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotGroupMember
	}
	if err := transferGroupAdmin(tx, group, userID, newAdminID); err != nil {
		return err
	}
	if group.CreatedBy == userID {
		if err := tx.Model(&models.Group{}).Where("id = ?", groupID).Update("created_by", newAdminID).Error; err != nil {
			return fmt.Errorf("move group creator: %w", err)
		}
	}
	return s.handOffAndRemove(tx, groupID, userID, newAdminID)
}

// leaveAsMember hands the user's projects to the longest-standing admin and drops
// the user's memberships.
func (s *AccountService) leaveAsMember(ctx context.Context, tx *gorm.DB, groupID, userID string) error {
	group, err := loadGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}

	var admin models.GroupMembership
	if err := tx.Where("group_id = ? AND role = ? AND user_id <> ?", groupID, models.RoleAdmin, userID).
		Order("joined_at ASC").
		Take(&admin).Error; err != nil {
		return fmt.Errorf("find group admin: %w", err)
	}
	if group.CreatedBy == userID {
		if err := tx.Model(&models.Group{}).Where("id = ?", groupID).Update("created_by", admin.UserID).Error; err != nil {
			return fmt.Errorf("move group creator: %w", err)
		}
	}
	return s.handOffAndRemove(tx, groupID, userID, admin.UserID)
}

func (s *AccountService) handOffAndRemove(tx *gorm.DB, groupID, userID, heirID string) error {
	created, err := projectsCreatedIn(tx, groupID, userID)
	if err != nil {
		return err
	}
	owners := make(map[string]string, len(created))
	for _, id := range created {
		owners[id] = heirID
	}
	if err := reassignProjects(tx, owners, heirID); err != nil {
		return err
	}
	if err := removeUserFromGroupProjects(tx, groupID, userID); err != nil {
		return err
	}
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.GroupMembership{}).Error; err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// detachUser removes rows that still reference the user once every group step succeeded.
func (s *AccountService) detachUser(tx *gorm.DB, userID string) error {
	if err := tx.Where("user_id = ?", userID).Delete(&models.ProjectMember{}).Error; err != nil {
		return fmt.Errorf("remove project memberships: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.GroupJoinRequest{}).Error; err != nil {
		return fmt.Errorf("remove join requests: %w", err)
	}
	if err := tx.Where("invited_user_id = ?", userID).Delete(&models.GroupInvitation{}).Error; err != nil {
		return fmt.Errorf("remove invitations: %w", err)
	}
	if err := tx.Model(&models.GroupInvitation{}).
		Where("invited_by = ? AND status IN ?", userID, openInvitationStates()).
		Update("status", models.InvitationCanceled).Error; err != nil {
		return fmt.Errorf("cancel sent invitations: %w", err)
	}
	return nil
}

func deleteIdentityRows(tx *gorm.DB, userID string) error {
	rows := []struct {
		model  any
		column string
	}{
		{&models.Session{}, "user_id"},
		{&models.EmailVerification{}, "user_id"},
		{&models.PasswordResetToken{}, "user_id"},
		{&models.User{}, "id"},
		{&models.Identity{}, "id"},
	}
	for _, row := range rows {
		if err := tx.Where(row.column+" = ?", userID).Delete(row.model).Error; err != nil {
			return fmt.Errorf("delete identity rows: %w", err)
		}
	}
	return nil
}

// finish records the deletion outcome in the deletion log, metrics and audit trail.
func (s *AccountService) finish(ctx context.Context, user *models.User, report *DeletionReport, cause error) {
	metrics.AccountDeletions.WithLabelValues(report.Result).Inc()

	payload, err := json.Marshal(report)
	if err == nil {
		entry := &models.AccountDeletionLog{
			UserID:   user.ID,
			Email:    user.Email,
			Username: user.Username,
			Result:   report.Result,
			Report:   datatypes.JSON(payload),
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			logCleanupFailure("account", "account deletion log not written", err, zap.String("user_id", user.ID))
		}
	}

	metadata := map[string]any{"steps": len(report.Steps), "files_removed": report.FilesRemoved}
	if cause != nil {
		metadata["errors"] = len(multierr.Errors(cause))
	}
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   user.ID,
		Username: user.Username,
		Action:   "account.delete",
		Resource: user.ID,
		Result:   report.Result,
		Metadata: metadata,
	})
}

func (s *AccountService) requireUser(ctx context.Context, userID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("account service: load user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
