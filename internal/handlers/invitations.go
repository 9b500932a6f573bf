package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// InvitationHandler lets invitees inspect and answer group invitations.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an invitation handler.
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// GET /api/invitations
func (h *InvitationHandler) ListMine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	invitations, err := h.invitations.ListMine(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// GET /api/invitations/token/:token?email=
func (h *InvitationHandler) Lookup(c *gin.Context) {
	token, ok := pathParam(c, "token")
	if !ok {
		return
	}

	invitation, err := h.invitations.LookupToken(requestContext(c), token, strings.TrimSpace(c.Query("email")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitation)
}

// POST /api/invitations/:id/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	h.respond(c, services.ActionAccept)
}

// POST /api/invitations/:id/decline
func (h *InvitationHandler) Decline(c *gin.Context) {
	h.respond(c, services.ActionDecline)
}

// POST /api/invitations/token/:token/accept
func (h *InvitationHandler) AcceptByToken(c *gin.Context) {
	h.respondByToken(c, services.ActionAccept)
}

// POST /api/invitations/token/:token/decline
func (h *InvitationHandler) DeclineByToken(c *gin.Context) {
	h.respondByToken(c, services.ActionDecline)
}

func (h *InvitationHandler) respond(c *gin.Context, action string) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	invitationID, ok := pathParam(c, "id")
	if !ok {
		return
	}

	invitation, err := h.invitations.Respond(requestContext(c), userID, invitationID, action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitation)
}

func (h *InvitationHandler) respondByToken(c *gin.Context, action string) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	token, ok := pathParam(c, "token")
	if !ok {
		return
	}

	invitation, err := h.invitations.RespondByToken(requestContext(c), userID, token, action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitation)
}
