package api

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/handlers"
)

func registerProjectRoutes(api *gin.RouterGroup, handler *handlers.ProjectHandler) {
	api.GET("/groups/:id/projects", handler.List)

	projects := api.Group("/projects")
	{
		projects.POST("", handler.Create)
		projects.GET("/:id", handler.Details)
		projects.PATCH("/:id", handler.Update)
		projects.DELETE("/:id", handler.Delete)

		projects.POST("/:id/checklist", handler.AddChecklistItem)
		projects.PATCH("/:id/checklist/:itemId", handler.UpdateChecklistItem)
		projects.DELETE("/:id/checklist/:itemId", handler.DeleteChecklistItem)

		projects.POST("/:id/members", handler.AddMember)
		projects.DELETE("/:id/members/:userId", handler.RemoveMember)
		projects.GET("/:id/members/available", handler.AvailableMembers)

		projects.GET("/:id/files", handler.ListFiles)
		projects.POST("/:id/files", handler.UploadFile)
	}

	files := api.Group("/files")
	{
		files.GET("/:fileId/download", handler.DownloadFile)
		files.DELETE("/:fileId", handler.DeleteFile)
	}
}
