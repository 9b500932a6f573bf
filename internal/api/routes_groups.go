package api

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/handlers"
)

func registerGroupRoutes(api *gin.RouterGroup, handler *handlers.GroupHandler) {
	groups := api.Group("/groups")
	{
		groups.GET("", handler.ListMine)
		groups.POST("", handler.Create)
		groups.GET("/search", handler.Search)
		groups.GET("/available", handler.Available)
		groups.GET("/join-requests/counts", handler.PendingCounts)

		groups.GET("/:id", handler.Details)
		groups.PATCH("/:id", handler.Update)
		groups.DELETE("/:id", handler.Delete)

		groups.POST("/:id/join", handler.RequestJoin)
		groups.GET("/:id/join-requests", handler.ListJoinRequests)
		groups.POST("/:id/join-requests/:requestId", handler.RespondJoinRequest)
		groups.DELETE("/:id/members/:userId", handler.RemoveMember)
		groups.POST("/:id/transfer", handler.Transfer)
		groups.GET("/:id/leave", handler.AnalyzeLeave)
		groups.POST("/:id/leave", handler.Leave)

		groups.GET("/:id/checklist", handler.ListDefaultChecklist)
		groups.POST("/:id/checklist", handler.AddDefaultChecklistItem)
		groups.PATCH("/:id/checklist/:itemId", handler.UpdateDefaultChecklistItem)
		groups.DELETE("/:id/checklist/:itemId", handler.DeleteDefaultChecklistItem)

		groups.POST("/:id/invitations", handler.Invite)
		groups.GET("/:id/invitations", handler.ListInvitations)
		groups.DELETE("/:id/invitations/:invitationId", handler.CancelInvitation)
	}
}
