package api

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/handlers"
)

func registerInvitationRoutes(public, api *gin.RouterGroup, handler *handlers.InvitationHandler) {
	// Lookup by token serves unregistered recipients following an emailed link.
	public.GET("/invitations/token/:token", handler.Lookup)

	invitations := api.Group("/invitations")
	{
		invitations.GET("", handler.ListMine)
		invitations.POST("/:id/accept", handler.Accept)
		invitations.POST("/:id/decline", handler.Decline)
		invitations.POST("/token/:token/accept", handler.AcceptByToken)
		invitations.POST("/token/:token/decline", handler.DeclineByToken)
	}
}

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.POST("/:id/respond", handler.Respond)
	}
}

func registerAccountRoutes(api *gin.RouterGroup, handler *handlers.AccountHandler) {
	api.GET("/account/deletion-analysis", handler.Analyze)
	api.DELETE("/account", handler.Delete)
}
