package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/logger"
)

const (
	maxProjectNameLength = 200
	maxChecklistTitle    = 255
)

var (
	validPriorities = []string{models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent, models.PriorityCompleted}
	validStatuses   = []string{models.ProjectStatusPlanning, models.ProjectStatusInProgress, models.ProjectStatusCompleted, models.ProjectStatusOnHold}
)

// ChecklistItemInput describes a new checklist entry.
type ChecklistItemInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

// ChecklistItemUpdate describes mutable checklist fields.
type ChecklistItemUpdate struct {
	Title       *string
	Description *string
	Completed   *bool
}

// CreateProjectInput captures the fields required to create a project.
type CreateProjectInput struct {
	GroupID        string
	Name           string
	Description    string
	Priority       string
	Status         string
	Notes          string
	MemberIDs      []string
	ChecklistItems []ChecklistItemInput
}

// UpdateProjectInput describes mutable project fields.
type UpdateProjectInput struct {
	Name        *string
	Description *string
	Priority    *string
	Status      *string
	Notes       *string
}

// ProjectServiceOption configures optional ProjectService behaviour.
type ProjectServiceOption func(*ProjectService)

// WithProjectHooks overrides the project lifecycle hooks.
func WithProjectHooks(hooks *Hooks) ProjectServiceOption {
	return func(s *ProjectService) {
		if hooks != nil {
			s.hooks = hooks
		}
	}
}

// WithProjectObjectRemover cleans stored files of deleted projects.
func WithProjectObjectRemover(r ObjectRemover) ProjectServiceOption {
	return func(s *ProjectService) {
		s.objects = r
	}
}

// ProjectService manages projects, their members and checklists.
type ProjectService struct {
	db           *gorm.DB
	auditService *AuditService
	hooks        *Hooks
	objects      ObjectRemover
}

// NewProjectService constructs a ProjectService.
func NewProjectService(db *gorm.DB, auditService *AuditService, opts ...ProjectServiceOption) (*ProjectService, error) {
	if db == nil {
		return nil, errors.New("project service: db is required")
	}
	svc := &ProjectService{
		db:           db,
		auditService: auditService,
		hooks:        DefaultHooks(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// List returns the group's projects ordered by priority rank, then newest first.
func (s *ProjectService) List(ctx context.Context, userID, groupID string) ([]ProjectSummaryDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupMember(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}

	var projects []models.Project
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("project service: list projects: %w", err)
	}
	sortProjects(projects)

	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, project.ID)
	}
	annotations, err := s.annotate(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ProjectSummaryDTO, 0, len(projects))
	for _, project := range projects {
		summary := annotations[project.ID]
		summary.ProjectDTO = toProjectDTO(project)
		if summary.AssignedMembers == nil {
			summary.AssignedMembers = []string{}
		}
		out = append(out, summary)
	}
	return out, nil
}

// sortProjects orders by priority rank descending, ties broken by created_at descending.
func sortProjects(projects []models.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		ri, rj := models.PriorityRank(projects[i].Priority), models.PriorityRank(projects[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
}

// Create inserts a project, runs the project hooks and adds the requested members
// that belong to the group. Unknown member ids are dropped silently.
func (s *ProjectService) Create(ctx context.Context, userID string, input CreateProjectInput) (*ProjectDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupMember(ctx, s.db, input.GroupID, userID); err != nil {
		return nil, err
	}

	name := cleanText(input.Name, maxProjectNameLength)
	if name == "" {
		return nil, apperrors.NewBadRequest("project name is required")
	}
	priority, err := normalizeChoice(input.Priority, models.PriorityMedium, validPriorities, "priority")
	if err != nil {
		return nil, err
	}
	status, err := normalizeChoice(input.Status, models.ProjectStatusPlanning, validStatuses, "status")
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		GroupID:     input.GroupID,
		Name:        name,
		Description: cleanText(input.Description, maxDescriptionLength),
		Priority:    priority,
		Status:      status,
		Notes:       cleanText(input.Notes, maxNotesLength),
		CreatedBy:   userID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if err := s.hooks.projectCreatedChain(ctx, tx, ProjectCreated{Project: project}); err != nil {
			return err
		}

		candidates := normaliseIDs(input.MemberIDs)
		if len(candidates) == 0 {
			return nil
		}
		var members []string
		if err := tx.Model(&models.GroupMembership{}).
			Where("group_id = ? AND user_id IN ? AND user_id <> ?", input.GroupID, candidates, userID).
			Pluck("user_id", &members).Error; err != nil {
			return fmt.Errorf("filter project members: %w", err)
		}
		for _, memberID := range members {
			row := &models.ProjectMember{
				ProjectID: project.ID,
				UserID:    memberID,
				Role:      models.RoleMember,
				AddedBy:   strPtr(userID),
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("add project member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("project service: %w", err)
	}

	if len(input.ChecklistItems) > 0 {
		if err := s.insertChecklist(ctx, project.ID, userID, input.ChecklistItems); err != nil {
			logger.WithModule("projects").Warn("initial checklist not created",
				zap.String("project_id", project.ID),
				zap.Error(err),
			)
		}
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "project.create",
		Resource: project.ID,
		Result:   "success",
		Metadata: map[string]any{"group_id": project.GroupID, "name": project.Name},
	})

	dto := toProjectDTO(*project)
	return &dto, nil
}

func (s *ProjectService) insertChecklist(ctx context.Context, projectID, userID string, inputs []ChecklistItemInput) error {
	items := make([]models.ChecklistItem, 0, len(inputs))
	for _, input := range inputs {
		title := cleanText(input.Title, maxChecklistTitle)
		if title == "" {
			continue
		}
		items = append(items, models.ChecklistItem{
			ProjectID:   projectID,
			Title:       title,
			Description: cleanTextPtr(input.Description, maxDescriptionLength),
			CreatedBy:   userID,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

// Details returns the project with members, checklist and files.
func (s *ProjectService) Details(ctx context.Context, userID, projectID string) (*ProjectDetailsDTO, error) {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}

	group, err := loadGroup(ctx, s.db, project.GroupID)
	if err != nil {
		return nil, err
	}

	members, err := s.members(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var items []models.ChecklistItem
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("project service: load checklist: %w", err)
	}
	checklist := make([]ChecklistItemDTO, 0, len(items))
	for _, item := range items {
		checklist = append(checklist, toChecklistItemDTO(item))
	}

	var rows []models.ProjectFile
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("project service: load files: %w", err)
	}
	files := make([]FileDTO, 0, len(rows))
	for _, row := range rows {
		files = append(files, toFileDTO(row))
	}

	return &ProjectDetailsDTO{
		Project:   toProjectDTO(*project),
		GroupName: group.Name,
		Members:   members,
		Checklist: checklist,
		Files:     files,
		IsCreator: project.CreatedBy == userID,
	}, nil
}

// Update changes project fields. Any group member may update.
func (s *ProjectService) Update(ctx context.Context, userID, projectID string, input UpdateProjectInput) (*ProjectDTO, error) {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := cleanText(*input.Name, maxProjectNameLength)
		if name == "" {
			return nil, apperrors.NewBadRequest("project name cannot be empty")
		}
		updates["name"] = name
	}
	if input.Description != nil {
		updates["description"] = cleanText(*input.Description, maxDescriptionLength)
	}
	if input.Notes != nil {
		updates["notes"] = cleanText(*input.Notes, maxNotesLength)
	}
	if input.Priority != nil {
		priority, err := normalizeChoice(*input.Priority, models.PriorityMedium, validPriorities, "priority")
		if err != nil {
			return nil, err
		}
		updates["priority"] = priority
	}
	if input.Status != nil {
		status, err := normalizeChoice(*input.Status, models.ProjectStatusPlanning, validStatuses, "status")
		if err != nil {
			return nil, err
		}
		updates["status"] = status
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("project service: update project: %w", err)
		}
		if err := s.db.WithContext(ctx).Take(project, "id = ?", project.ID).Error; err != nil {
			return nil, fmt.Errorf("project service: reload project: %w", err)
		}
	}

	dto := toProjectDTO(*project)
	return &dto, nil
}

// Delete removes the project and its children. Only the project creator may delete;
// stored files are cleaned afterwards and cleanup failures are only logged.
func (s *ProjectService) Delete(ctx context.Context, userID, projectID string) error {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return err
	}
	if project.CreatedBy != userID {
		return ErrAccessDenied.WithMessage("Only the project creator can delete this project")
	}

	var objects []StoredObject
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := deleteProjectRows(tx, []string{projectID})
		objects = removed
		return err
	})
	if err != nil {
		return fmt.Errorf("project service: delete project: %w", err)
	}

	removeObjects(ctx, s.objects, objects)

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "project.delete",
		Resource: projectID,
		Result:   "success",
		Metadata: map[string]any{"group_id": project.GroupID, "files": len(objects)},
	})
	return nil
}

// AddChecklistItem appends a checklist entry.
func (s *ProjectService) AddChecklistItem(ctx context.Context, userID, projectID string, input ChecklistItemInput) (*ChecklistItemDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := loadProjectForMember(ctx, s.db, projectID, userID); err != nil {
		return nil, err
	}

	title := cleanText(input.Title, maxChecklistTitle)
	if title == "" {
		return nil, apperrors.NewBadRequest("checklist item title is required")
	}

	item := &models.ChecklistItem{
		ProjectID:   projectID,
		Title:       title,
		Description: cleanTextPtr(input.Description, maxDescriptionLength),
		CreatedBy:   userID,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("project service: add checklist item: %w", err)
	}
	dto := toChecklistItemDTO(*item)
	return &dto, nil
}

// UpdateChecklistItem changes a checklist entry, including its completion state.
func (s *ProjectService) UpdateChecklistItem(ctx context.Context, userID, projectID, itemID string, input ChecklistItemUpdate) (*ChecklistItemDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := loadProjectForMember(ctx, s.db, projectID, userID); err != nil {
		return nil, err
	}

	var item models.ChecklistItem
	if err := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", itemID, projectID).Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundOrAccessDenied
		}
		return nil, fmt.Errorf("project service: load checklist item: %w", err)
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := cleanText(*input.Title, maxChecklistTitle)
		if title == "" {
			return nil, apperrors.NewBadRequest("checklist item title cannot be empty")
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = cleanTextPtr(input.Description, maxDescriptionLength)
	}
	if input.Completed != nil {
		updates["completed"] = *input.Completed
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&item).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("project service: update checklist item: %w", err)
		}
		if err := s.db.WithContext(ctx).Take(&item, "id = ?", item.ID).Error; err != nil {
			return nil, fmt.Errorf("project service: reload checklist item: %w", err)
		}
	}

	dto := toChecklistItemDTO(item)
	return &dto, nil
}

// DeleteChecklistItem removes a checklist entry and reports when nothing matched.
func (s *ProjectService) DeleteChecklistItem(ctx context.Context, userID, projectID, itemID string) error {
	ctx = ensureContext(ctx)

	if _, _, err := loadProjectForMember(ctx, s.db, projectID, userID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", itemID, projectID).Delete(&models.ChecklistItem{})
	if result.Error != nil {
		return fmt.Errorf("project service: delete checklist item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFoundOrAccessDenied
	}
	return nil
}

// AddMember adds a group member to the project.
func (s *ProjectService) AddMember(ctx context.Context, userID, projectID, targetID string) (*ProjectMemberDTO, error) {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}

	target, err := loadMembership(ctx, s.db, project.GroupID, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotGroupMember
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, targetID).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("project service: check project member: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyMember.WithMessage("User is already a member of this project")
	}

	member := &models.ProjectMember{
		ProjectID: projectID,
		UserID:    targetID,
		Role:      models.RoleMember,
		AddedBy:   strPtr(userID),
	}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAlreadyMember.WithMessage("User is already a member of this project")
		}
		return nil, fmt.Errorf("project service: add member: %w", err)
	}

	members, err := s.members(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.UserID == targetID {
			return &m, nil
		}
	}
	return nil, ErrNotFoundOrAccessDenied
}

// RemoveMember removes a user from the project. The creator and the last remaining
// member cannot be removed. Callers may remove themselves; removing others requires
// being the project creator, a project admin or a group admin.
func (s *ProjectService) RemoveMember(ctx context.Context, userID, projectID, targetID string) error {
	ctx = ensureContext(ctx)

	project, membership, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return err
	}

	if targetID != userID && !membership.IsAdmin() && project.CreatedBy != userID {
		var caller models.ProjectMember
		err := s.db.WithContext(ctx).Where("project_id = ? AND user_id = ?", projectID, userID).Take(&caller).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("project service: load caller membership: %w", err)
		}
		if caller.Role != models.RoleAdmin {
			return ErrAccessDenied.WithMessage("Only project admins can remove other members")
		}
	}

	if targetID == project.CreatedBy {
		return ErrCannotRemoveCreator.WithMessage("The project creator cannot be removed")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
			return fmt.Errorf("count project members: %w", err)
		}
		if total <= 1 {
			return ErrLastMemberRemoval
		}

		result := tx.Where("project_id = ? AND user_id = ?", projectID, targetID).Delete(&models.ProjectMember{})
		if result.Error != nil {
			return fmt.Errorf("remove project member: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFoundOrAccessDenied.WithMessage("User is not a member of this project")
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("project service: %w", err)
	}
	return nil
}

// AvailableMembers lists group members who are not yet on the project.
func (s *ProjectService) AvailableMembers(ctx context.Context, userID, projectID string) ([]MemberDTO, error) {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}

	members, err := listGroupMembers(ctx, s.db, project.GroupID)
	if err != nil {
		return nil, fmt.Errorf("project service: %w", err)
	}

	var onProject []string
	if err := s.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ?", projectID).
		Pluck("user_id", &onProject).Error; err != nil {
		return nil, fmt.Errorf("project service: load project members: %w", err)
	}

	out := make([]MemberDTO, 0, len(members))
	for _, member := range members {
		if !containsString(onProject, member.UserID) {
			out = append(out, member)
		}
	}
	return out, nil
}

func (s *ProjectService) members(ctx context.Context, projectID string) ([]ProjectMemberDTO, error) {
	var rows []struct {
		UserID         string
		Username       string
		Email          string
		ProfilePicture string
		Role           string
		AddedBy        *string
		CreatedAt      time.Time
	}
	if err := s.db.WithContext(ctx).
		Table("project_members AS pm").
		Select("pm.user_id, u.username, u.email, u.profile_picture, pm.role, pm.added_by, pm.created_at").
		Joins("JOIN users u ON u.id = pm.user_id").
		Where("pm.project_id = ?", projectID).
		Order("pm.created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("project service: list members: %w", err)
	}

	out := make([]ProjectMemberDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, ProjectMemberDTO{
			UserID:         row.UserID,
			Username:       row.Username,
			Email:          row.Email,
			ProfilePicture: row.ProfilePicture,
			Role:           row.Role,
			AddedBy:        row.AddedBy,
			AddedAt:        row.CreatedAt,
		})
	}
	return out, nil
}

// annotate computes list counters for the given projects.
func (s *ProjectService) annotate(ctx context.Context, projectIDs []string) (map[string]ProjectSummaryDTO, error) {
	out := make(map[string]ProjectSummaryDTO, len(projectIDs))
	if len(projectIDs) == 0 {
		return out, nil
	}
	db := s.db.WithContext(ctx)

	type counter struct {
		ProjectID string
		Total     int64
		Done      int64
	}

	var members []struct {
		ProjectID string
		Username  string
	}
	if err := db.Table("project_members AS pm").
		Select("pm.project_id, u.username").
		Joins("JOIN users u ON u.id = pm.user_id").
		Where("pm.project_id IN ?", projectIDs).
		Order("pm.created_at ASC").
		Scan(&members).Error; err != nil {
		return nil, fmt.Errorf("project service: count members: %w", err)
	}
	for _, row := range members {
		summary := out[row.ProjectID]
		summary.MemberCount++
		summary.AssignedMembers = append(summary.AssignedMembers, row.Username)
		out[row.ProjectID] = summary
	}

	var files []counter
	if err := db.Model(&models.ProjectFile{}).
		Select("project_id, COUNT(*) AS total").
		Where("project_id IN ?", projectIDs).
		Group("project_id").
		Scan(&files).Error; err != nil {
		return nil, fmt.Errorf("project service: count files: %w", err)
	}
	for _, row := range files {
		summary := out[row.ProjectID]
		summary.FileCount = row.Total
		out[row.ProjectID] = summary
	}

	var checklist []counter
	if err := db.Model(&models.ChecklistItem{}).
		Select("project_id, COUNT(*) AS total, SUM(CASE WHEN completed THEN 1 ELSE 0 END) AS done").
		Where("project_id IN ?", projectIDs).
		Group("project_id").
		Scan(&checklist).Error; err != nil {
		return nil, fmt.Errorf("project service: count checklist: %w", err)
	}
	for _, row := range checklist {
		summary := out[row.ProjectID]
		summary.ChecklistTotal = row.Total
		summary.ChecklistCompleted = row.Done
		out[row.ProjectID] = summary
	}

	return out, nil
}

// normalizeChoice lower-cases value and checks it against allowed, using fallback when empty.
func normalizeChoice(value, fallback string, allowed []string, field string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback, nil
	}
	if !containsString(allowed, value) {
		return "", apperrors.NewBadRequest(fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", ")))
	}
	return value, nil
}
