package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/crypto"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

const (
	inviteCodeLength   = 8
	inviteCodeAttempts = 5
	searchGroupsLimit  = 20
	availableLimit     = 50
	maxGroupNameLength = 120
)

// Join request actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// CreateGroupInput captures the fields required to create a group.
type CreateGroupInput struct {
	Name        string
	Description string
}

// UpdateGroupInput describes mutable group fields.
type UpdateGroupInput struct {
	Name        *string
	Description *string
}

// ProjectTransfer hands a project to a new creator.
type ProjectTransfer struct {
	ProjectID  string `json:"project_id"`
	NewOwnerID string `json:"new_owner_id"`
}

// LeaveAnalysis describes what happens when the caller leaves a group.
type LeaveAnalysis struct {
	Group           GroupDTO     `json:"group"`
	Role            string       `json:"role"`
	IsSoleMember    bool         `json:"is_sole_member"`
	IsOnlyAdmin     bool         `json:"is_only_admin"`
	CanLeave        bool         `json:"can_leave"`
	WillDeleteGroup bool         `json:"will_delete_group"`
	ProjectsCreated []ProjectDTO `json:"projects_created"`
	OtherMembers    []MemberDTO  `json:"other_members"`
}

// DefaultChecklistItemInput describes a group checklist template row.
type DefaultChecklistItemInput struct {
	Title        *string
	Description  *string
	DisplayOrder *int
}

// GroupServiceOption configures optional GroupService behaviour.
type GroupServiceOption func(*GroupService)

// WithGroupClock overrides the clock used for membership timestamps.
func WithGroupClock(now func() time.Time) GroupServiceOption {
	return func(s *GroupService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGroupPublisher pushes inbox events when join requests change.
func WithGroupPublisher(p InboxPublisher) GroupServiceOption {
	return func(s *GroupService) {
		s.publisher = publisherOrNoop(p)
	}
}

// WithGroupObjectRemover cleans stored files of cascaded projects.
func WithGroupObjectRemover(r ObjectRemover) GroupServiceOption {
	return func(s *GroupService) {
		s.objects = r
	}
}

// GroupService manages groups, memberships and join requests.
type GroupService struct {
	db           *gorm.DB
	auditService *AuditService
	publisher    InboxPublisher
	objects      ObjectRemover
	now          func() time.Time
}

// NewGroupService constructs a GroupService.
func NewGroupService(db *gorm.DB, auditService *AuditService, opts ...GroupServiceOption) (*GroupService, error) {
	if db == nil {
		return nil, errors.New("group service: db is required")
	}
	svc := &GroupService{
		db:           db,
		auditService: auditService,
		publisher:    noopPublisher{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Create inserts a group and the creator's admin membership in one transaction.
func (s *GroupService) Create(ctx context.Context, userID string, input CreateGroupInput) (*GroupDTO, error) {
	ctx = ensureContext(ctx)

	name := cleanText(input.Name, maxGroupNameLength)
	if name == "" {
		return nil, apperrors.NewBadRequest("group name is required")
	}

	code, err := s.uniqueInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	group := &models.Group{
		Name:        name,
		Description: cleanText(input.Description, maxDescriptionLength),
		InviteCode:  code,
		CreatedBy:   userID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		membership := &models.GroupMembership{
			GroupID:  group.ID,
			UserID:   userID,
			Role:     models.RoleAdmin,
			JoinedAt: s.now(),
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("create admin membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "group.create",
		Resource: group.ID,
		Result:   "success",
		Metadata: map[string]any{"name": group.Name},
	})

	dto := toGroupDTO(*group, 1, models.RoleAdmin)
	return &dto, nil
}

// ListMine returns every group the user belongs to, newest first.
func (s *GroupService) ListMine(ctx context.Context, userID string) ([]GroupDTO, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		models.Group
		Role string
	}
	if err := s.db.WithContext(ctx).
		Table("research_groups").
		Select("research_groups.*, gm.role AS role").
		Joins("JOIN group_memberships gm ON gm.group_id = research_groups.id").
		Where("gm.user_id = ?", userID).
		Order("research_groups.created_at DESC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group service: list groups: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := countGroupMembers(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}

	out := make([]GroupDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGroupDTO(row.Group, counts[row.ID], row.Role))
	}
	return out, nil
}

// Search matches name or invite code substrings among groups the caller has not joined.
func (s *GroupService) Search(ctx context.Context, userID, query string) ([]GroupDTO, error) {
	ctx = ensureContext(ctx)

	query = strings.TrimSpace(query)
	if query == "" {
		return []GroupDTO{}, nil
	}
	pattern := "%" + strings.ToLower(query) + "%"

	return s.listOutside(ctx, userID, searchGroupsLimit, func(db *gorm.DB) *gorm.DB {
		return db.Where("LOWER(name) LIKE ? OR LOWER(invite_code) LIKE ?", pattern, pattern)
	})
}

// ListAvailable returns groups the caller does not belong to.
func (s *GroupService) ListAvailable(ctx context.Context, userID string) ([]GroupDTO, error) {
	ctx = ensureContext(ctx)
	return s.listOutside(ctx, userID, availableLimit, nil)
}

func (s *GroupService) listOutside(ctx context.Context, userID string, limit int, scope func(*gorm.DB) *gorm.DB) ([]GroupDTO, error) {
	joined := s.db.WithContext(ctx).Model(&models.GroupMembership{}).Select("group_id").Where("user_id = ?", userID)

	query := s.db.WithContext(ctx).Model(&models.Group{}).Where("id NOT IN (?)", joined)
	if scope != nil {
		query = scope(query)
	}

	var groups []models.Group
	if err := query.Order("created_at DESC").Limit(limit).Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("group service: list groups: %w", err)
	}

	ids := make([]string, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.ID)
	}
	counts, err := countGroupMembers(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}

	out := make([]GroupDTO, 0, len(groups))
	for _, group := range groups {
		out = append(out, toGroupDTO(group, counts[group.ID], ""))
	}
	return out, nil
}

// Details returns the group with its members. Admins also see pending join requests.
func (s *GroupService) Details(ctx context.Context, userID, groupID string) (*GroupDetailsDTO, error) {
	ctx = ensureContext(ctx)

	group, membership, err := requireGroupMember(ctx, s.db, groupID, userID)
	if err != nil {
		return nil, err
	}

	members, err := listGroupMembers(ctx, s.db, groupID)
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}

	details := &GroupDetailsDTO{
		Group:     toGroupDTO(*group, int64(len(members)), membership.Role),
		Members:   members,
		MyRole:    membership.Role,
		IsCreator: group.CreatedBy == userID,
	}
	if membership.IsAdmin() {
		pending, err := s.joinRequests(ctx, groupID)
		if err != nil {
			return nil, err
		}
		details.PendingRequests = pending
	}
	return details, nil
}

// Update changes group name or description. Admin only.
func (s *GroupService) Update(ctx context.Context, userID, groupID string, input UpdateGroupInput) (*GroupDTO, error) {
	ctx = ensureContext(ctx)

	group, membership, err := requireGroupAdmin(ctx, s.db, groupID, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := cleanText(*input.Name, maxGroupNameLength)
		if name == "" {
			return nil, apperrors.NewBadRequest("group name cannot be empty")
		}
		updates["name"] = name
	}
	if input.Description != nil {
		updates["description"] = cleanText(*input.Description, maxDescriptionLength)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(group).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("group service: update group: %w", err)
		}
		if err := s.db.WithContext(ctx).Take(group, "id = ?", group.ID).Error; err != nil {
			return nil, fmt.Errorf("group service: reload group: %w", err)
		}
	}

	counts, err := countGroupMembers(ctx, s.db, []string{group.ID})
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}
	dto := toGroupDTO(*group, counts[group.ID], membership.Role)
	return &dto, nil
}

// Delete removes the group and everything under it. Creator only.
func (s *GroupService) Delete(ctx context.Context, userID, groupID string) error {
	ctx = ensureContext(ctx)

	group, err := loadGroup(ctx, s.db, groupID)
	if err != nil {
		return err
	}
	if group.CreatedBy != userID {
		return ErrAccessDenied.WithMessage("Only the group creator can delete this group")
	}

	var objects []StoredObject
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := deleteGroupRows(tx, groupID)
		objects = removed
		return err
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return err
		}
		return fmt.Errorf("group service: delete group: %w", err)
	}

	removeObjects(ctx, s.objects, objects)

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "group.delete",
		Resource: groupID,
		Result:   "success",
		Metadata: map[string]any{"name": group.Name, "files": len(objects)},
	})
	return nil
}

// RequestToJoin creates a pending join request for the caller.
func (s *GroupService) RequestToJoin(ctx context.Context, userID, groupID, message string) (*JoinRequestDTO, error) {
	ctx = ensureContext(ctx)

	group, err := loadGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}

	request := &models.GroupJoinRequest{
		GroupID:     groupID,
		UserID:      userID,
		Status:      models.JoinRequestPending,
		Message:     cleanText(message, maxMessageLength),
		RequestedAt: s.now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		membership, err := loadMembership(ctx, tx, groupID, userID)
		if err != nil {
			return err
		}
		if membership != nil {
			return ErrAlreadyMember.WithMessage("You are already a member of this group")
		}

		var pending int64
		if err := tx.Model(&models.GroupJoinRequest{}).
			Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.JoinRequestPending).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("check pending requests: %w", err)
		}
		if pending > 0 {
			return ErrDuplicatePendingRequest.WithMessage("You already have a pending request for this group")
		}

		return tx.Create(request).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("group service: request to join: %w", err)
	}

	s.notifyAdmins(ctx, groupID, map[string]any{"type": "join_request", "group_id": groupID, "request_id": request.ID})

	rows, err := s.loadJoinRequests(ctx, s.db.Where("r.id = ?", request.ID))
	if err != nil || len(rows) == 0 {
		return &JoinRequestDTO{
			ID:          request.ID,
			GroupID:     groupID,
			GroupName:   group.Name,
			UserID:      userID,
			Status:      request.Status,
			Message:     request.Message,
			RequestedAt: request.RequestedAt,
		}, nil
	}
	return &rows[0], nil
}

// ListJoinRequests returns pending join requests for a group. Admin only.
func (s *GroupService) ListJoinRequests(ctx context.Context, userID, groupID string) ([]JoinRequestDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}
	return s.joinRequests(ctx, groupID)
}

// RespondToJoinRequest approves or rejects a pending request. Approval inserts a
// member row; a request can only be answered once.
func (s *GroupService) RespondToJoinRequest(ctx context.Context, userID, groupID, requestID, action string) (*JoinRequestDTO, error) {
	ctx = ensureContext(ctx)

	action = strings.ToLower(strings.TrimSpace(action))
	if action != ActionApprove && action != ActionReject {
		return nil, apperrors.NewBadRequest("action must be approve or reject")
	}

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}

	var request models.GroupJoinRequest
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND group_id = ?", requestID, groupID).Take(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJoinRequestNotFound
			}
			return fmt.Errorf("load join request: %w", err)
		}
		if request.Status != models.JoinRequestPending {
			return ErrRequestAlreadyProcessed
		}

		status := models.JoinRequestRejected
		if action == ActionApprove {
			status = models.JoinRequestApproved
		}
		result := tx.Model(&models.GroupJoinRequest{}).
			Where("id = ? AND status = ?", request.ID, models.JoinRequestPending).
			Updates(map[string]any{"status": status, "responded_at": now, "responded_by": userID})
		if result.Error != nil {
			return fmt.Errorf("update join request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRequestAlreadyProcessed
		}
		request.Status = status
		request.RespondedAt = &now
		request.RespondedBy = &userID

		if action != ActionApprove {
			return nil
		}
		return s.addMember(ctx, tx, groupID, request.UserID, now)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("group service: respond to join request: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "join_request.respond",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{"group_id": groupID, "action": action, "requester_id": request.UserID},
	})

	s.publisher.PublishInbox(request.UserID, EventInboxUpdated, map[string]any{
		"type":       "join_request",
		"group_id":   groupID,
		"request_id": request.ID,
		"status":     request.Status,
	})
	s.notifyAdmins(ctx, groupID, map[string]any{"type": "join_request", "group_id": groupID, "request_id": request.ID, "status": request.Status})

	rows, err := s.loadJoinRequests(ctx, s.db.Where("r.id = ?", request.ID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrJoinRequestNotFound
	}
	return &rows[0], nil
}

// PendingJoinRequestCounts returns pending request totals for every group the user administers.
func (s *GroupService) PendingJoinRequestCounts(ctx context.Context, userID string) (map[string]int64, error) {
	ctx = ensureContext(ctx)

	admin := s.db.WithContext(ctx).Model(&models.GroupMembership{}).
		Select("group_id").
		Where("user_id = ? AND role = ?", userID, models.RoleAdmin)

	var rows []struct {
		GroupID string
		Total   int64
	}
	if err := s.db.WithContext(ctx).Model(&models.GroupJoinRequest{}).
		Select("group_id, COUNT(*) AS total").
		Where("status = ? AND group_id IN (?)", models.JoinRequestPending, admin).
		Group("group_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group service: count join requests: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.GroupID] = row.Total
	}
	return counts, nil
}

// RemoveMember removes another member from the group and from every project in it.
// Projects the removed member created are handed to the removing admin.
func (s *GroupService) RemoveMember(ctx context.Context, userID, groupID, targetID string) error {
	ctx = ensureContext(ctx)

	group, _, err := requireGroupAdmin(ctx, s.db, groupID, userID)
	if err != nil {
		return err
	}
	if targetID == userID {
		return apperrors.NewBadRequest("use leave to remove yourself from a group")
	}
	if targetID == group.CreatedBy {
		return ErrCannotRemoveCreator.WithMessage("The group creator cannot be removed")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := loadMembership(ctx, tx, groupID, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotGroupMember
		}

		created, err := projectsCreatedIn(tx, groupID, targetID)
		if err != nil {
			return err
		}
		owners := make(map[string]string, len(created))
		for _, id := range created {
			owners[id] = userID
		}
		if err := reassignProjects(tx, owners, userID); err != nil {
			return err
		}
		if err := removeUserFromGroupProjects(tx, groupID, targetID); err != nil {
			return err
		}
		return tx.Delete(target).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("group service: remove member: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "group.remove_member",
		Resource: groupID,
		Result:   "success",
		Metadata: map[string]any{"member_id": targetID},
	})
	return nil
}

// TransferOwnership promotes toUserID to admin and demotes the calling admin to member.
// The group's creator does not change.
func (s *GroupService) TransferOwnership(ctx context.Context, userID, groupID, toUserID string) error {
	ctx = ensureContext(ctx)

	group, _, err := requireGroupAdmin(ctx, s.db, groupID, userID)
	if err != nil {
		return err
	}
	if toUserID == "" || toUserID == userID {
		return apperrors.NewBadRequest("choose another member as the new admin")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := loadMembership(ctx, tx, groupID, toUserID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotGroupMember
		}
		return transferGroupAdmin(tx, group, userID, toUserID)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("group service: transfer ownership: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "group.transfer",
		Resource: groupID,
		Result:   "success",
		Metadata: map[string]any{"new_admin_id": toUserID},
	})
	return nil
}

// transferGroupAdmin promotes the successor before demoting so the group never lacks an admin.
func transferGroupAdmin(tx *gorm.DB, group *models.Group, fromUserID, toUserID string) error {
	if err := tx.Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", group.ID, toUserID).
		Update("role", models.RoleAdmin).Error; err != nil {
		return fmt.Errorf("promote member: %w", err)
	}
	if err := tx.Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", group.ID, fromUserID).
		Update("role", models.RoleMember).Error; err != nil {
		return fmt.Errorf("demote admin: %w", err)
	}
	return nil
}

// AnalyzeLeave reports whether the caller may leave and which projects need a new owner.
func (s *GroupService) AnalyzeLeave(ctx context.Context, userID, groupID string) (*LeaveAnalysis, error) {
	ctx = ensureContext(ctx)

	group, membership, err := requireGroupMember(ctx, s.db, groupID, userID)
	if err != nil {
		return nil, err
	}

	members, err := listGroupMembers(ctx, s.db, groupID)
	if err != nil {
		return nil, fmt.Errorf("group service: %w", err)
	}

	var others []MemberDTO
	admins := 0
	for _, member := range members {
		if member.Role == models.RoleAdmin {
			admins++
		}
		if member.UserID != userID {
			others = append(others, member)
		}
	}

	var projects []models.Project
	if err := s.db.WithContext(ctx).
		Where("group_id = ? AND created_by = ?", groupID, userID).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("group service: load created projects: %w", err)
	}
	created := make([]ProjectDTO, 0, len(projects))
	for _, project := range projects {
		created = append(created, toProjectDTO(project))
	}

	analysis := &LeaveAnalysis{
		Group:           toGroupDTO(*group, int64(len(members)), membership.Role),
		Role:            membership.Role,
		IsSoleMember:    len(members) == 1,
		IsOnlyAdmin:     membership.IsAdmin() && admins == 1,
		ProjectsCreated: created,
		OtherMembers:    others,
	}
	if analysis.OtherMembers == nil {
		analysis.OtherMembers = []MemberDTO{}
	}
	analysis.WillDeleteGroup = analysis.IsSoleMember
	analysis.CanLeave = analysis.IsSoleMember || !analysis.IsOnlyAdmin
	return analysis, nil
}

// Leave removes the caller from the group. The sole member leaving deletes the group;
// the only admin cannot leave while others remain; projects the caller created must
// be handed to another member.
func (s *GroupService) Leave(ctx context.Context, userID, groupID string, transfers []ProjectTransfer) error {
	ctx = ensureContext(ctx)

	analysis, err := s.AnalyzeLeave(ctx, userID, groupID)
	if err != nil {
		return err
	}

	if analysis.WillDeleteGroup {
		var objects []StoredObject
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			removed, err := deleteGroupRows(tx, groupID)
			objects = removed
			return err
		})
		if err != nil {
			return fmt.Errorf("group service: delete group on leave: %w", err)
		}
		removeObjects(ctx, s.objects, objects)
		recordAudit(s.auditService, ctx, AuditEntry{
			UserID:   userID,
			Action:   "group.delete",
			Resource: groupID,
			Result:   "success",
			Metadata: map[string]any{"reason": "last member left"},
		})
		return nil
	}

	if analysis.IsOnlyAdmin {
		return ErrLastAdmin
	}

	owners, err := validateProjectTransfers(analysis, userID, transfers)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := reassignProjects(tx, owners, userID); err != nil {
			return err
		}
		if err := removeUserFromGroupProjects(tx, groupID, userID); err != nil {
			return err
		}
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.GroupMembership{}).Error; err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if analysis.Group.CreatedBy == userID {
			return handOverCreator(tx, groupID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("group service: leave group: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "group.leave",
		Resource: groupID,
		Result:   "success",
		Metadata: map[string]any{"transferred_projects": len(owners)},
	})
	return nil
}

func validateProjectTransfers(analysis *LeaveAnalysis, userID string, transfers []ProjectTransfer) (map[string]string, error) {
	eligible := make(map[string]struct{}, len(analysis.OtherMembers))
	for _, member := range analysis.OtherMembers {
		eligible[member.UserID] = struct{}{}
	}
	created := make(map[string]struct{}, len(analysis.ProjectsCreated))
	for _, project := range analysis.ProjectsCreated {
		created[project.ID] = struct{}{}
	}

	owners := make(map[string]string, len(transfers))
	for _, transfer := range transfers {
		projectID := strings.TrimSpace(transfer.ProjectID)
		ownerID := strings.TrimSpace(transfer.NewOwnerID)
		if _, ok := created[projectID]; !ok {
			return nil, ErrIncompleteTransferMapping.WithMessage("A transfer names a project you did not create in this group")
		}
		if _, ok := eligible[ownerID]; !ok || ownerID == userID {
			return nil, ErrIncompleteTransferMapping.WithMessage("Projects can only be transferred to another member of this group")
		}
		owners[projectID] = ownerID
	}
	for projectID := range created {
		if _, ok := owners[projectID]; !ok {
			return nil, ErrIncompleteTransferMapping.WithMessage("Choose a new owner for every project you created in this group")
		}
	}
	return owners, nil
}

// handOverCreator points created_by at the longest-standing admin.
func handOverCreator(tx *gorm.DB, groupID string) error {
	var admin models.GroupMembership
	if err := tx.Where("group_id = ? AND role = ?", groupID, models.RoleAdmin).
		Order("joined_at ASC").
		Take(&admin).Error; err != nil {
		return fmt.Errorf("find successor admin: %w", err)
	}
	if err := tx.Model(&models.Group{}).Where("id = ?", groupID).Update("created_by", admin.UserID).Error; err != nil {
		return fmt.Errorf("move group creator: %w", err)
	}
	return nil
}

// ListDefaultChecklist returns the group's checklist templates in display order.
func (s *GroupService) ListDefaultChecklist(ctx context.Context, userID, groupID string) ([]DefaultChecklistItemDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupMember(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}

	var items []models.GroupDefaultChecklistItem
	if err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("display_order ASC, created_at ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("group service: list default checklist: %w", err)
	}

	out := make([]DefaultChecklistItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toDefaultChecklistItemDTO(item))
	}
	return out, nil
}

// AddDefaultChecklistItem appends a checklist template. Admin only.
func (s *GroupService) AddDefaultChecklistItem(ctx context.Context, userID, groupID string, input DefaultChecklistItemInput) (*DefaultChecklistItemDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}

	title := ""
	if input.Title != nil {
		title = cleanText(*input.Title, maxGroupNameLength*2)
	}
	if title == "" {
		return nil, apperrors.NewBadRequest("checklist item title is required")
	}

	item := &models.GroupDefaultChecklistItem{
		GroupID:     groupID,
		Title:       title,
		Description: cleanTextPtr(input.Description, maxDescriptionLength),
	}
	if input.DisplayOrder != nil {
		item.DisplayOrder = *input.DisplayOrder
	} else {
		var next struct{ Max *int }
		if err := s.db.WithContext(ctx).Model(&models.GroupDefaultChecklistItem{}).
			Select("MAX(display_order) AS max").
			Where("group_id = ?", groupID).
			Scan(&next).Error; err != nil {
			return nil, fmt.Errorf("group service: next display order: %w", err)
		}
		if next.Max != nil {
			item.DisplayOrder = *next.Max + 1
		}
	}

	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("group service: add default checklist item: %w", err)
	}
	dto := toDefaultChecklistItemDTO(*item)
	return &dto, nil
}

// UpdateDefaultChecklistItem changes a checklist template. Admin only.
func (s *GroupService) UpdateDefaultChecklistItem(ctx context.Context, userID, groupID, itemID string, input DefaultChecklistItemInput) (*DefaultChecklistItemDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}

	var item models.GroupDefaultChecklistItem
	if err := s.db.WithContext(ctx).Where("id = ? AND group_id = ?", itemID, groupID).Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundOrAccessDenied
		}
		return nil, fmt.Errorf("group service: load default checklist item: %w", err)
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := cleanText(*input.Title, maxGroupNameLength*2)
		if title == "" {
			return nil, apperrors.NewBadRequest("checklist item title cannot be empty")
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = cleanTextPtr(input.Description, maxDescriptionLength)
	}
	if input.DisplayOrder != nil {
		updates["display_order"] = *input.DisplayOrder
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&item).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("group service: update default checklist item: %w", err)
		}
		if err := s.db.WithContext(ctx).Take(&item, "id = ?", item.ID).Error; err != nil {
			return nil, fmt.Errorf("group service: reload default checklist item: %w", err)
		}
	}

	dto := toDefaultChecklistItemDTO(item)
	return &dto, nil
}

// DeleteDefaultChecklistItem removes a checklist template. Admin only.
func (s *GroupService) DeleteDefaultChecklistItem(ctx context.Context, userID, groupID, itemID string) error {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where("id = ? AND group_id = ?", itemID, groupID).Delete(&models.GroupDefaultChecklistItem{})
	if result.Error != nil {
		return fmt.Errorf("group service: delete default checklist item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFoundOrAccessDenied
	}
	return nil
}

func (s *GroupService) uniqueInviteCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := crypto.GenerateCode(inviteCodeLength)
		if err != nil {
			return "", fmt.Errorf("group service: generate invite code: %w", err)
		}
		var taken int64
		if err := s.db.WithContext(ctx).Model(&models.Group{}).Where("invite_code = ?", code).Count(&taken).Error; err != nil {
			return "", fmt.Errorf("group service: check invite code: %w", err)
		}
		if taken == 0 {
			return code, nil
		}
	}
	return "", errors.New("group service: could not allocate a unique invite code")
}

// addMember inserts a member row unless the user already belongs to the group.
func (s *GroupService) addMember(ctx context.Context, tx *gorm.DB, groupID, userID string, joinedAt time.Time) error {
	existing, err := loadMembership(ctx, tx, groupID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	membership := &models.GroupMembership{
		GroupID:  groupID,
		UserID:   userID,
		Role:     models.RoleMember,
		JoinedAt: joinedAt,
	}
	if err := tx.Create(membership).Error; err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

func (s *GroupService) notifyAdmins(ctx context.Context, groupID string, data map[string]any) {
	var admins []string
	if err := s.db.WithContext(ctx).Model(&models.GroupMembership{}).
		Where("group_id = ? AND role = ?", groupID, models.RoleAdmin).
		Pluck("user_id", &admins).Error; err != nil {
		logCleanupFailure("groups", "load admins for inbox event failed", err)
		return
	}
	for _, adminID := range admins {
		s.publisher.PublishInbox(adminID, EventInboxUpdated, data)
	}
}

func (s *GroupService) joinRequests(ctx context.Context, groupID string) ([]JoinRequestDTO, error) {
	return s.loadJoinRequests(ctx, s.db.Where("r.group_id = ? AND r.status = ?", groupID, models.JoinRequestPending))
}

// loadJoinRequests scans join requests matching filter joined with requester and group names.
func (s *GroupService) loadJoinRequests(ctx context.Context, filter *gorm.DB) ([]JoinRequestDTO, error) {
	var rows []struct {
		ID             string
		GroupID        string
		GroupName      string
		UserID         string
		Username       string
		Email          string
		ProfilePicture string
		Status         string
		Message        string
		RequestedAt    time.Time
		RespondedAt    *time.Time
	}
	if err := s.db.WithContext(ctx).
		Table("group_join_requests AS r").
		Select("r.id, r.group_id, g.name AS group_name, r.user_id, u.username, u.email, u.profile_picture, r.status, r.message, r.requested_at, r.responded_at").
		Joins("JOIN users u ON u.id = r.user_id").
		Joins("JOIN research_groups g ON g.id = r.group_id").
		Where(filter).
		Order("r.requested_at DESC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group service: list join requests: %w", err)
	}

	out := make([]JoinRequestDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, JoinRequestDTO{
			ID:             row.ID,
			GroupID:        row.GroupID,
			GroupName:      row.GroupName,
			UserID:         row.UserID,
			Username:       row.Username,
			Email:          row.Email,
			ProfilePicture: row.ProfilePicture,
			Status:         row.Status,
			Message:        row.Message,
			RequestedAt:    row.RequestedAt,
			RespondedAt:    row.RespondedAt,
		})
	}
	return out, nil
}
