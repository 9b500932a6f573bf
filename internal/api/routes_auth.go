package api

import (
	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/handlers"
)

func registerAuthRoutes(public, api *gin.RouterGroup, handler *handlers.AuthHandler, throttle []gin.HandlerFunc) {
	auth := public.Group("/auth")
	auth.Use(throttle...)
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/check-verification", handler.CheckVerification)
		auth.POST("/resend-verification", handler.ResendVerification)
		auth.POST("/verify-email", handler.VerifyEmail)
		auth.POST("/forgot-password", handler.ForgotPassword)
		auth.POST("/reset-password", handler.ResetPassword)
	}

	api.GET("/auth/me", handler.Me)
	api.POST("/auth/logout", handler.Logout)
	api.POST("/auth/change-password", handler.ChangePassword)
}
