package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS allows cross-origin API calls carrying bearer tokens. Cookies are never used.
// With no origins (or "*") every origin is allowed; otherwise only listed origins
// are echoed back.
func CORS(origins ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := true
	for _, origin := range origins {
		origin = normaliseOrigin(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			wildcard = true
			allowed = nil
			break
		}
		wildcard = false
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		if wildcard {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Vary", "Origin")
			origin := c.GetHeader("Origin")
			if _, ok := allowed[normaliseOrigin(origin)]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normaliseOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}
