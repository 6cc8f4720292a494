package handler

import (
	"crypto/subtle"
	"strconv"
	"time"

	"earnsystem/internal/metrics"
	"earnsystem/pkg/logger"
	"earnsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxAdminID = "admin_id"

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
		)
	}
}

// MetricsMiddleware records request counts and latency per route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPResponseTime.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", zap.Any("panic", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.Abort(c, 500, response.CodeServerError, "internal error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Admin-Token, X-Admin-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AdminAuth checks the shared admin token and records the operator id
// from X-Admin-ID for the audit trail. An empty configured token locks the
// admin API entirely.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Abort(c, 401, response.CodeUnauthorized, "admin token required")
			return
		}
		adminID := c.GetHeader("X-Admin-ID")
		if adminID == "" {
			response.Abort(c, 400, response.CodeParamError, "X-Admin-ID header required")
			return
		}
		c.Set(ctxAdminID, adminID)
		c.Next()
	}
}
