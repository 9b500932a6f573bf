package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/middleware"
	"github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated caller or writes a 401 response.
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// pathParam returns a trimmed path parameter or writes a 400 response when it is empty.
func pathParam(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		response.Error(c, errors.NewBadRequest(name+" is required"))
		return "", false
	}
	return value, true
}
