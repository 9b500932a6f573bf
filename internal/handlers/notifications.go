package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// NotificationHandler exposes the merged inbox of invitations and join requests.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type respondNotificationRequest struct {
	Type   string `json:"type" validate:"required,oneof=invitation join_request"`
	Action string `json:"action" validate:"required,oneof=accept decline approve reject"`
}

// List returns the caller's pending inbox items, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	items, err := h.service.List(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// Respond answers an inbox item. Invitations take accept/decline, join requests approve/reject.
func (h *NotificationHandler) Respond(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	itemID, ok := pathParam(c, "id")
	if !ok {
		return
	}

	var req respondNotificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Respond(requestContext(c), userID, req.Type, itemID, strings.ToLower(req.Action)); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Response recorded")
}
