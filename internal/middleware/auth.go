package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/macroscope/macroscope/internal/auditctx"
	iauth "github.com/macroscope/macroscope/internal/auth"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/logger"
	"github.com/macroscope/macroscope/pkg/response"
)

const (
	CtxSessionKey   = "sessionContext"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
)

// AuthOption customises the Auth middleware.
type AuthOption func(*authOptions)

type authOptions struct {
	queryToken bool
}

// AllowQueryToken also accepts the access token from the `token` query parameter.
// Websocket clients cannot set an Authorization header.
func AllowQueryToken() AuthOption {
	return func(o *authOptions) {
		o.queryToken = true
	}
}

// Auth validates the bearer token and resolves the caller's SessionContext.
func Auth(jwt *iauth.JWTService, resolver *iauth.IdentityResolver, opts ...AuthOption) gin.HandlerFunc {
	var options authOptions
	for _, opt := range opts {
		opt(&options)
	}

	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" && options.queryToken {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			unauthorized(c)
			return
		}

		session, err := resolver.Resolve(c.Request.Context(), claims.UserID, claims.SessionID)
		if err != nil {
			if !isSessionError(err) {
				logger.WithModule("http").Warn("session resolution failed", zap.String("user_id", claims.UserID), zap.Error(err))
			}
			unauthorized(c)
			return
		}

		c.Set(CtxSessionKey, session)
		c.Set(CtxUserIDKey, session.UserID)
		c.Set(CtxSessionIDKey, session.SessionID)
		c.Request = c.Request.WithContext(auditctx.WithUser(c.Request.Context(), session.UserID))
		c.Next()
	}
}

// Session returns the SessionContext stored by Auth.
func Session(c *gin.Context) (*iauth.SessionContext, bool) {
	value, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*iauth.SessionContext)
	return session, ok && session != nil
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, apperrors.ErrUnauthorized)
	c.Abort()
}

func isSessionError(err error) bool {
	return errors.Is(err, iauth.ErrIdentityNotFound) ||
		errors.Is(err, iauth.ErrSessionNotFound) ||
		errors.Is(err, iauth.ErrSessionRevoked) ||
		errors.Is(err, iauth.ErrSessionExpired)
}
