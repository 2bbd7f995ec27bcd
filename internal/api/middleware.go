package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"workbridge/internal/model"
	"workbridge/internal/util"
	"workbridge/pkg/metrics"
	"workbridge/pkg/rbac"
	"workbridge/pkg/trace"
)

const principalKey = "principal"

// AuthMiddleware validates the bearer token and stores the Principal so
// handlers never read claims themselves.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		userID, role, err := util.ParseJWT(token, jwtSecret)
		if err != nil || !rbac.ValidRole(role) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(principalKey, model.Principal{UserID: userID, Role: role})
		c.Next()
	}
}

// principal returns the authenticated caller stored by AuthMiddleware.
func principal(c *gin.Context) model.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(model.Principal)
	return p
}

// RequirePermission 中间件：要求调用者角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if !rbac.HasPermission(p.Role, permission) {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// TraceMiddleware propagates or creates the request trace id.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName()))
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// MetricsMiddleware records per-route request latency.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
