package api

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/handlers"
)

func registerProfileRoutes(api *gin.RouterGroup, handler *handlers.ProfileHandler) {
	profile := api.Group("/profile")
	{
		profile.GET("", handler.Get)
		profile.PATCH("", handler.Update)
		profile.POST("/avatar", handler.UploadAvatar)
		profile.GET("/avatars/defaults", handler.DefaultAvatars)
		profile.GET("/stats", handler.Stats)
	}

	api.GET("/users/:id", handler.Public)
}
