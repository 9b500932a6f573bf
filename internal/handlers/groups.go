package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// GroupHandler exposes group membership, join requests, default checklists and invitations.
type GroupHandler struct {
	groups      *services.GroupService
	invitations *services.InvitationService
}

// NewGroupHandler configures group endpoints, including group invitations.
func NewGroupHandler(groups *services.GroupService, invitations *services.InvitationService) *GroupHandler {
	return &GroupHandler{groups: groups, invitations: invitations}
}

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"omitempty,max=1000"`
}

type updateGroupRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type joinGroupRequest struct {
	Message string `json:"message" validate:"omitempty,max=500"`
}

type respondJoinRequest struct {
	Action string `json:"action" validate:"required,respond_action"`
}

type transferGroupRequest struct {
	NewAdminID string `json:"new_admin_id" validate:"required"`
}

type leaveGroupRequest struct {
	ProjectTransfers []services.ProjectTransfer `json:"project_transfers"`
}

type defaultChecklistRequest struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=1000"`
	DisplayOrder *int    `json:"display_order" validate:"omitempty,min=0"`
}

type inviteRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"omitempty,max=500"`
}

// GET /api/groups
func (h *GroupHandler) ListMine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.groups.ListMine(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// POST /api/groups
func (h *GroupHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createGroupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	group, err := h.groups.Create(requestContext(c), userID, services.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, group)
}

// GET /api/groups/search?q=
func (h *GroupHandler) Search(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.groups.Search(requestContext(c), userID, strings.TrimSpace(c.Query("q")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// GET /api/groups/available
func (h *GroupHandler) Available(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.groups.ListAvailable(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// GET /api/groups/join-requests/counts
func (h *GroupHandler) PendingCounts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	counts, err := h.groups.PendingJoinRequestCounts(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, counts)
}

// GET /api/groups/:id
func (h *GroupHandler) Details(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	details, err := h.groups.Details(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, details)
}

// PATCH /api/groups/:id
func (h *GroupHandler) Update(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req updateGroupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	group, err := h.groups.Update(requestContext(c), userID, groupID, services.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, group)
}

// DELETE /api/groups/:id
func (h *GroupHandler) Delete(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	if err := h.groups.Delete(requestContext(c), userID, groupID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Group deleted")
}

// POST /api/groups/:id/join
func (h *GroupHandler) RequestJoin(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req joinGroupRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	request, err := h.groups.RequestToJoin(requestContext(c), userID, groupID, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, request)
}

// GET /api/groups/:id/join-requests
func (h *GroupHandler) ListJoinRequests(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	requests, err := h.groups.ListJoinRequests(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// POST /api/groups/:id/join-requests/:requestId
func (h *GroupHandler) RespondJoinRequest(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}
	requestID, ok := pathParam(c, "requestId")
	if !ok {
		return
	}

	var req respondJoinRequest
	if !bindAndValidate(c, &req) {
		return
	}

	request, err := h.groups.RespondToJoinRequest(requestContext(c), userID, groupID, requestID, strings.ToLower(req.Action))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, request)
}

// DELETE /api/groups/:id/members/:userId
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}
	targetID, ok := pathParam(c, "userId")
	if !ok {
		return
	}

	if err := h.groups.RemoveMember(requestContext(c), userID, groupID, targetID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Member removed")
}

// POST /api/groups/:id/transfer
func (h *GroupHandler) Transfer(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req transferGroupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.groups.TransferOwnership(requestContext(c), userID, groupID, strings.TrimSpace(req.NewAdminID)); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Admin role transferred")
}

// GET /api/groups/:id/leave
func (h *GroupHandler) AnalyzeLeave(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	analysis, err := h.groups.AnalyzeLeave(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analysis)
}

// POST /api/groups/:id/leave
func (h *GroupHandler) Leave(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req leaveGroupRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	if err := h.groups.Leave(requestContext(c), userID, groupID, req.ProjectTransfers); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "You left the group")
}

// GET /api/groups/:id/checklist
func (h *GroupHandler) ListDefaultChecklist(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	items, err := h.groups.ListDefaultChecklist(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// POST /api/groups/:id/checklist
func (h *GroupHandler) AddDefaultChecklistItem(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req defaultChecklistRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.groups.AddDefaultChecklistItem(requestContext(c), userID, groupID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, item)
}

// PATCH /api/groups/:id/checklist/:itemId
func (h *GroupHandler) UpdateDefaultChecklistItem(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}
	itemID, ok := pathParam(c, "itemId")
	if !ok {
		return
	}

	var req defaultChecklistRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.groups.UpdateDefaultChecklistItem(requestContext(c), userID, groupID, itemID, req.input())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// DELETE /api/groups/:id/checklist/:itemId
func (h *GroupHandler) DeleteDefaultChecklistItem(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}
	itemID, ok := pathParam(c, "itemId")
	if !ok {
		return
	}

	if err := h.groups.DeleteDefaultChecklistItem(requestContext(c), userID, groupID, itemID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Checklist item deleted")
}

// POST /api/groups/:id/invitations
func (h *GroupHandler) Invite(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	var req inviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invitation, err := h.invitations.Invite(requestContext(c), userID, groupID, services.InviteInput{
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, invitation)
}

// GET /api/groups/:id/invitations
func (h *GroupHandler) ListInvitations(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}

	invitations, err := h.invitations.ListGroupInvitations(requestContext(c), userID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// DELETE /api/groups/:id/invitations/:invitationId
func (h *GroupHandler) CancelInvitation(c *gin.Context) {
	userID, groupID, ok := groupCaller(c)
	if !ok {
		return
	}
	invitationID, ok := pathParam(c, "invitationId")
	if !ok {
		return
	}

	if err := h.invitations.Cancel(requestContext(c), userID, groupID, invitationID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Invitation cancelled")
}

func (r defaultChecklistRequest) input() services.DefaultChecklistItemInput {
	return services.DefaultChecklistItemInput{
		Title:        r.Title,
		Description:  r.Description,
		DisplayOrder: r.DisplayOrder,
	}
}

func groupCaller(c *gin.Context) (string, string, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return "", "", false
	}
	groupID, ok := pathParam(c, "id")
	if !ok {
		return "", "", false
	}
	return userID, groupID, true
}
