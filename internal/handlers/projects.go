package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/filepolicy"
	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// ProjectHandler exposes projects together with their checklist, members and files.
type ProjectHandler struct {
	projects *services.ProjectService
	files    *services.FileService
}

// NewProjectHandler wires project and project file endpoints.
func NewProjectHandler(projects *services.ProjectService, files *services.FileService) *ProjectHandler {
	return &ProjectHandler{projects: projects, files: files}
}

type checklistItemRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type createProjectRequest struct {
	GroupID        string                 `json:"group_id" validate:"required"`
	Name           string                 `json:"name" validate:"required,min=1,max=200"`
	Description    string                 `json:"description" validate:"omitempty,max=2000"`
	Priority       string                 `json:"priority" validate:"omitempty,priority"`
	Status         string                 `json:"status" validate:"omitempty,project_status"`
	Notes          string                 `json:"notes" validate:"omitempty,max=5000"`
	MemberIDs      []string               `json:"member_ids"`
	ChecklistItems []checklistItemRequest `json:"checklist_items" validate:"omitempty,dive"`
}

type updateProjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Priority    *string `json:"priority" validate:"omitempty,priority"`
	Status      *string `json:"status" validate:"omitempty,project_status"`
	Notes       *string `json:"notes" validate:"omitempty,max=5000"`
}

type updateChecklistItemRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Completed   *bool   `json:"completed"`
}

type addProjectMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// GET /api/groups/:id/projects
func (h *ProjectHandler) List(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	projects, err := h.projects.List(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, projects)
}

// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createProjectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	items := make([]services.ChecklistItemInput, 0, len(req.ChecklistItems))
	for _, item := range req.ChecklistItems {
		items = append(items, services.ChecklistItemInput{Title: item.Title, Description: item.Description})
	}

	project, err := h.projects.Create(requestContext(c), userID, services.CreateProjectInput{
		GroupID:        strings.TrimSpace(req.GroupID),
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		Status:         req.Status,
		Notes:          req.Notes,
		MemberIDs:      req.MemberIDs,
		ChecklistItems: items,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, project)
}

// GET /api/projects/:id
func (h *ProjectHandler) Details(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	details, err := h.projects.Details(requestContext(c), userID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, details)
}

// PATCH /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	var req updateProjectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	project, err := h.projects.Update(requestContext(c), userID, projectID, services.UpdateProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		Notes:       req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, project)
}

// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	if err := h.projects.Delete(requestContext(c), userID, projectID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Project deleted")
}

// POST /api/projects/:id/checklist
func (h *ProjectHandler) AddChecklistItem(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	var req checklistItemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.projects.AddChecklistItem(requestContext(c), userID, projectID, services.ChecklistItemInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, item)
}

// PATCH /api/projects/:id/checklist/:itemId
func (h *ProjectHandler) UpdateChecklistItem(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}
	itemID, ok := pathParam(c, "itemId")
	if !ok {
		return
	}

	var req updateChecklistItemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.projects.UpdateChecklistItem(requestContext(c), userID, projectID, itemID, services.ChecklistItemUpdate{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// DELETE /api/projects/:id/checklist/:itemId
func (h *ProjectHandler) DeleteChecklistItem(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}
	itemID, ok := pathParam(c, "itemId")
	if !ok {
		return
	}

	if err := h.projects.DeleteChecklistItem(requestContext(c), userID, projectID, itemID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Checklist item deleted")
}

// POST /api/projects/:id/members
func (h *ProjectHandler) AddMember(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	var req addProjectMemberRequest
	if !bindAndValidate(c, &req) {
		return
	}

	member, err := h.projects.AddMember(requestContext(c), userID, projectID, strings.TrimSpace(req.UserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, member)
}

// DELETE /api/projects/:id/members/:userId
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}
	targetID, ok := pathParam(c, "userId")
	if !ok {
		return
	}

	if err := h.projects.RemoveMember(requestContext(c), userID, projectID, targetID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Member removed")
}

// GET /api/projects/:id/members/available
func (h *ProjectHandler) AvailableMembers(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	members, err := h.projects.AvailableMembers(requestContext(c), userID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// GET /api/projects/:id/files?sort_by=&order=
func (h *ProjectHandler) ListFiles(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	files, err := h.files.ListProjectFiles(requestContext(c), userID, projectID, services.ListFilesOptions{
		SortBy: strings.TrimSpace(c.Query("sort_by")),
		Order:  strings.TrimSpace(c.Query("order")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, files)
}

// POST /api/projects/:id/files
func (h *ProjectHandler) UploadFile(c *gin.Context) {
	userID, projectID, ok := projectCaller(c)
	if !ok {
		return
	}

	upload, closeUpload, ok := readUpload(c, filepolicy.ScopeProject)
	if !ok {
		return
	}
	defer closeUpload()

	file, err := h.files.UploadProjectFile(requestContext(c), userID, projectID, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, file)
}

// GET /api/files/:fileId/download
func (h *ProjectHandler) DownloadFile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	fileID, ok := pathParam(c, "fileId")
	if !ok {
		return
	}

	link, err := h.files.DownloadURL(requestContext(c), userID, fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, link)
}

// DELETE /api/files/:fileId
func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	fileID, ok := pathParam(c, "fileId")
	if !ok {
		return
	}

	if err := h.files.DeleteFile(requestContext(c), userID, fileID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "File deleted")
}

func projectCaller(c *gin.Context) (string, string, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return "", "", false
	}
	projectID, ok := pathParam(c, "id")
	if !ok {
		return "", "", false
	}
	return userID, projectID, true
}
