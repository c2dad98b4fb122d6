// Package middleware provides the Gin middleware shared by the HTTP servers.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/modelrelay/internal/access"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/util"
	log "github.com/sirupsen/logrus"
)

// AuthMiddleware rejects requests the access manager does not accept. With no
// API keys configured every request passes.
func AuthMiddleware(manager *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.Next()
			return
		}
		result, authErr := manager.Authenticate(c.Request.Context(), c.Request)
		if authErr == nil {
			if result != nil {
				c.Set("apiKey", result.Principal)
				c.Set("accessProvider", result.Provider)
			}
			c.Next()
			return
		}

		log.Debugf("rejected %s %s: %v (authorization %s)", c.Request.Method, c.Request.URL.Path, authErr,
			util.MaskAuthorizationHeader(c.GetHeader("Authorization")))
		status := authErr.HTTPStatusCode()
		c.Data(status, "application/json", handlers.BuildErrorResponseBody(status, authErr.Message))
		c.Abort()
	}
}

// CORSMiddleware allows every origin, method and header and answers
// preflight requests directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
